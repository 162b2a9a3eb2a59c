package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/highlight-helper/highlight-helper/internal/model"
	"github.com/highlight-helper/highlight-helper/internal/store"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export books and highlights to a file",
	Long: `Export the highlight library.

The xlsx format writes a workbook with Books and Highlights sheets.
The csv format writes flat highlight rows with book columns, to the
output file or stdout when --output is empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("export"); err != nil {
			return err
		}
		if exportFormat != "xlsx" && exportFormat != "csv" {
			return eris.Errorf("export: --format must be xlsx or csv (got %q)", exportFormat)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "export: migrate")
		}

		books, _, err := st.ListBooks(ctx, store.Unbounded)
		if err != nil {
			return eris.Wrap(err, "export: list books")
		}
		highlights, err := st.ListHighlights(ctx, store.Unbounded)
		if err != nil {
			return eris.Wrap(err, "export: list highlights")
		}

		switch exportFormat {
		case "xlsx":
			path := exportOutput
			if path == "" {
				path = "highlights.xlsx"
			}
			if err := writeWorkbook(path, bookRows(books), highlightRows(highlights)); err != nil {
				return err
			}
			fmt.Printf("Exported %d books and %d highlights to %s\n", len(books), len(highlights), path)
		case "csv":
			w := os.Stdout
			if exportOutput != "" {
				f, err := os.Create(exportOutput)
				if err != nil {
					return eris.Wrapf(err, "export: create output file %s", exportOutput)
				}
				defer f.Close() //nolint:errcheck
				w = f
			}
			if err := writeHighlightCSV(w, highlightRows(highlights)); err != nil {
				return err
			}
			if exportOutput != "" {
				fmt.Printf("Exported %d highlights to %s\n", len(highlights), exportOutput)
			}
		}

		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFormat, "format", "xlsx", "output format: xlsx or csv")
	f.StringVar(&exportOutput, "output", "", "output file path (default: highlights.xlsx, or stdout for csv)")
	rootCmd.AddCommand(exportCmd)
}

// bookRows flattens books into a header row plus one row per book.
func bookRows(books []model.Book) [][]string {
	rows := [][]string{{"id", "title", "author", "isbn", "cover_url", "highlights", "created_at"}}
	for _, b := range books {
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10),
			b.Title,
			b.Author,
			strValue(b.ISBN),
			strValue(b.CoverURL),
			strconv.Itoa(b.HighlightCount),
			b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

// highlightRows flattens highlights, joined with their book's display fields,
// into a header row plus one row per highlight.
func highlightRows(highlights []model.HighlightWithBook) [][]string {
	rows := [][]string{{"id", "book", "author", "text", "note", "page", "sync_status", "readwise_id", "created_at", "synced_at"}}
	for _, h := range highlights {
		rows = append(rows, []string{
			strconv.FormatInt(h.ID, 10),
			h.BookTitle,
			h.BookAuthor,
			h.Text,
			strValue(h.Note),
			strValue(h.PageNumber),
			string(h.SyncStatus),
			strValue(h.ReadwiseID),
			h.CreatedAt.UTC().Format(time.RFC3339),
			timeValue(h.SyncedAt),
		})
	}
	return rows
}

func writeWorkbook(path string, books, highlights [][]string) error {
	f := xlsx.NewFile()

	sheets := []struct {
		name string
		rows [][]string
	}{
		{"Books", books},
		{"Highlights", highlights},
	}
	for _, sheet := range sheets {
		sh, err := f.AddSheet(sheet.name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", sheet.name)
		}
		for _, row := range sheet.rows {
			r := sh.AddRow()
			for _, cell := range row {
				r.AddCell().SetString(cell)
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func writeHighlightCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
