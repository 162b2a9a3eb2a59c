package evals

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTmpl = template.Must(template.New("").Funcs(template.FuncMap{
	"percent":  func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"rate":     func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"millis":   func(v float64) string { return fmt.Sprintf("%.0fms", v) },
	"truncate": truncateText,
}).ParseFS(templateFS, "templates/*.html"))

type reportView struct {
	Mode            Mode
	Generated       string
	StatusText      string
	StatusColor     template.CSS
	PassRate        float64
	TotalCases      int
	PassedCases     int
	FailedCases     int
	ErrorCases      int
	AvgCharAccuracy float64
	AvgLatencyMS    float64
	Rows            []resultRow
}

type resultRow struct {
	Class        string
	Status       string
	CaseID       string
	CharAccuracy float64
	Confidence   string
	LatencyMS    float64
	ExpectedText string
	ActualText   string
	Error        string
}

// RenderHTML writes the report as a self-contained HTML page at outputPath,
// creating parent directories as needed.
func RenderHTML(report *Report, outputPath string) error {
	var buf bytes.Buffer
	if err := reportTmpl.ExecuteTemplate(&buf, "report.html", newReportView(report)); err != nil {
		return eris.Wrap(err, "render report")
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create report dir %s", dir)
		}
	}

	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "write report %s", outputPath)
	}

	return nil
}

func newReportView(r *Report) reportView {
	label, color := statusTier(r.PassRate())

	rows := make([]resultRow, 0, len(r.Results))
	for i := range r.Results {
		res := &r.Results[i]

		var class, status string
		switch {
		case res.Errored():
			class, status = "error", "❌ Error"
		case res.Passed():
			class, status = "passed", "✓ Passed"
		default:
			class, status = "failed", "✗ Failed"
		}

		rows = append(rows, resultRow{
			Class:        class,
			Status:       status,
			CaseID:       res.CaseID,
			CharAccuracy: res.CharAccuracy,
			Confidence:   res.Confidence,
			LatencyMS:    res.LatencyMS,
			ExpectedText: res.ExpectedText,
			ActualText:   res.ActualText,
			Error:        res.Error,
		})
	}

	return reportView{
		Mode:            r.Mode,
		Generated:       r.Timestamp.Format("2006-01-02 15:04:05"),
		StatusText:      label,
		StatusColor:     template.CSS(color),
		PassRate:        r.PassRate(),
		TotalCases:      r.TotalCases,
		PassedCases:     r.PassedCases,
		FailedCases:     r.FailedCases,
		ErrorCases:      r.ErrorCases,
		AvgCharAccuracy: r.AvgCharAccuracy,
		AvgLatencyMS:    r.AvgLatencyMS,
		Rows:            rows,
	}
}

// statusTier maps a pass rate to the banner label and color shown in the
// report header.
func statusTier(passRate float64) (label, color string) {
	switch {
	case passRate >= 90:
		return "Excellent", "#22c55e"
	case passRate >= 80:
		return "Good", "#84cc16"
	case passRate >= 60:
		return "Needs Improvement", "#eab308"
	default:
		return "Failing", "#ef4444"
	}
}

// truncateText shortens display text to 100 characters, keeping the full
// value available elsewhere (the table puts it in the cell title).
func truncateText(s string) string {
	r := []rune(s)
	if len(r) <= 100 {
		return s
	}
	return string(r[:100]) + "..."
}
