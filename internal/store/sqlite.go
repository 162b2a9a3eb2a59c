package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/highlight-helper/highlight-helper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS books (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	isbn       TEXT,
	cover_url  TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS highlights (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	book_id     INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	note        TEXT,
	page_number TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	readwise_id TEXT,
	synced_at   DATETIME,
	sync_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS app_settings (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE INDEX IF NOT EXISTS idx_books_created_at ON books(created_at);
CREATE INDEX IF NOT EXISTS idx_highlights_book_id ON highlights(book_id);
CREATE INDEX IF NOT EXISTS idx_highlights_sync_status ON highlights(sync_status);
CREATE INDEX IF NOT EXISTS idx_highlights_created_at ON highlights(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Books ---

func (s *SQLiteStore) CreateBook(ctx context.Context, book model.Book) (*model.Book, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO books (title, author, isbn, cover_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		book.Title, book.Author, book.ISBN, book.CoverURL, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert book")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: book insert id")
	}

	b := book
	b.ID = id
	b.CreatedAt = now
	b.HighlightCount = 0
	return &b, nil
}

func (s *SQLiteStore) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT b.id, b.title, b.author, b.isbn, b.cover_url, b.created_at,
		        (SELECT COUNT(*) FROM highlights h WHERE h.book_id = b.id)
		 FROM books b WHERE b.id = ?`,
		id,
	)
	b, err := scanBook(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get book %d", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBooks(ctx context.Context, filter PageFilter) ([]model.Book, int, error) {
	// SQLite treats a negative LIMIT as no limit.
	limit := filter.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	where := ""
	var args []any
	if filter.Search != "" {
		where = `WHERE b.title LIKE ? COLLATE NOCASE OR b.author LIKE ? COLLATE NOCASE`
		term := "%" + filter.Search + "%"
		args = append(args, term, term)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.title, b.author, b.isbn, b.cover_url, b.created_at,
		        COALESCE(hc.n, 0)
		 FROM books b
		 LEFT JOIN (SELECT book_id, COUNT(*) AS n FROM highlights GROUP BY book_id) hc
		        ON hc.book_id = b.id
		 `+where+`
		 ORDER BY b.created_at DESC
		 LIMIT ? OFFSET ?`,
		append(args, limit, filter.Offset)...,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list books")
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan book")
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list books iterate")
	}

	countSQL := `SELECT COUNT(*) FROM books b ` + where
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count books")
	}
	return books, total, nil
}

func (s *SQLiteStore) UpdateBook(ctx context.Context, id int64, upd BookUpdate) (*model.Book, error) {
	var sets []string
	var args []any

	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Author != nil {
		sets = append(sets, "author = ?")
		args = append(args, *upd.Author)
	}
	if upd.ISBN != nil {
		sets = append(sets, "isbn = ?")
		args = append(args, *upd.ISBN)
	}
	if upd.CoverURL != nil {
		sets = append(sets, "cover_url = ?")
		args = append(args, *upd.CoverURL)
	}
	if len(sets) == 0 {
		return s.GetBook(ctx, id)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update book %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetBook(ctx, id)
}

func (s *SQLiteStore) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete book %d", id)
	}
	return checkRowsAffected(res, "book", id)
}

// --- Highlights ---

func (s *SQLiteStore) CreateHighlight(ctx context.Context, h model.Highlight) (*model.Highlight, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	h.CreatedAt = h.CreatedAt.UTC()
	if h.SyncStatus == "" {
		h.SyncStatus = model.SyncPending
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO highlights (book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.BookID, h.Text, h.Note, h.PageNumber, h.CreatedAt, h.ReadwiseID, h.SyncedAt, string(h.SyncStatus),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert highlight for book %d", h.BookID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: highlight insert id")
	}
	h.ID = id
	return &h, nil
}

func (s *SQLiteStore) GetHighlight(ctx context.Context, id int64) (*model.Highlight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status
		 FROM highlights WHERE id = ?`,
		id,
	)
	h, err := scanHighlight(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get highlight %d", id)
	}
	return h, nil
}

func (s *SQLiteStore) GetHighlightWithBook(ctx context.Context, id int64) (*model.HighlightWithBook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT h.id, h.book_id, h.text, h.note, h.page_number, h.created_at,
		        h.readwise_id, h.synced_at, h.sync_status, b.title, b.author
		 FROM highlights h JOIN books b ON b.id = h.book_id
		 WHERE h.id = ?`,
		id,
	)
	hw, err := scanHighlightWithBook(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get highlight %d", id)
	}
	return hw, nil
}

func (s *SQLiteStore) ListHighlights(ctx context.Context, filter PageFilter) ([]model.HighlightWithBook, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.book_id, h.text, h.note, h.page_number, h.created_at,
		        h.readwise_id, h.synced_at, h.sync_status, b.title, b.author
		 FROM highlights h JOIN books b ON b.id = h.book_id
		 ORDER BY h.created_at DESC
		 LIMIT ? OFFSET ?`,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list highlights")
	}
	defer rows.Close()
	return collectHighlightsWithBook(rows)
}

func (s *SQLiteStore) ListHighlightsByBook(ctx context.Context, bookID int64) ([]model.Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status
		 FROM highlights WHERE book_id = ?
		 ORDER BY created_at DESC`,
		bookID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list highlights for book %d", bookID)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

func (s *SQLiteStore) UpdateHighlight(ctx context.Context, id int64, upd HighlightUpdate) (*model.Highlight, error) {
	var sets []string
	var args []any

	if upd.Text != nil {
		sets = append(sets, "text = ?")
		args = append(args, *upd.Text)
	}
	if upd.Note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *upd.Note)
	}
	if upd.PageNumber != nil {
		sets = append(sets, "page_number = ?")
		args = append(args, *upd.PageNumber)
	}
	if len(sets) == 0 {
		return s.GetHighlight(ctx, id)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update highlight %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetHighlight(ctx, id)
}

func (s *SQLiteStore) DeleteHighlight(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete highlight %d", id)
	}
	return checkRowsAffected(res, "highlight", id)
}

// --- Sync bookkeeping ---

func (s *SQLiteStore) ListPendingHighlights(ctx context.Context) ([]model.HighlightWithBook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.book_id, h.text, h.note, h.page_number, h.created_at,
		        h.readwise_id, h.synced_at, h.sync_status, b.title, b.author
		 FROM highlights h JOIN books b ON b.id = h.book_id
		 WHERE h.sync_status = ?
		 ORDER BY h.id`,
		string(model.SyncPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending highlights")
	}
	defer rows.Close()
	return collectHighlightsWithBook(rows)
}

func (s *SQLiteStore) ListPendingHighlightsByBook(ctx context.Context, bookID int64) ([]model.Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status
		 FROM highlights WHERE book_id = ? AND sync_status = ?
		 ORDER BY id`,
		bookID, string(model.SyncPending),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list pending highlights for book %d", bookID)
	}
	defer rows.Close()
	return collectHighlights(rows)
}

func (s *SQLiteStore) CountHighlightsByStatus(ctx context.Context, status model.SyncStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM highlights WHERE sync_status = ?`,
		string(status),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count highlights with status %s", status)
	}
	return n, nil
}

func (s *SQLiteStore) MarkHighlightSynced(ctx context.Context, id int64, readwiseID *string, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET readwise_id = ?, synced_at = ?, sync_status = ? WHERE id = ?`,
		readwiseID, syncedAt.UTC(), string(model.SyncSynced), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark highlight %d synced", id)
	}
	return checkRowsAffected(res, "highlight", id)
}

func (s *SQLiteStore) SetHighlightSyncStatus(ctx context.Context, id int64, status model.SyncStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET sync_status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set sync status for highlight %d", id)
	}
	return checkRowsAffected(res, "highlight", id)
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = ?`,
		key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}

	setting := model.Setting{Key: key}
	if value.Valid {
		setting.Value = &value.String
	}
	return &setting, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value *string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBook(row scannable) (*model.Book, error) {
	var b model.Book
	var isbn, coverURL sql.NullString

	err := row.Scan(&b.ID, &b.Title, &b.Author, &isbn, &coverURL, &b.CreatedAt, &b.HighlightCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if isbn.Valid {
		b.ISBN = &isbn.String
	}
	if coverURL.Valid {
		b.CoverURL = &coverURL.String
	}
	return &b, nil
}

func scanHighlight(row scannable) (*model.Highlight, error) {
	var h model.Highlight
	var note, pageNumber, readwiseID sql.NullString
	var syncedAt sql.NullTime

	err := row.Scan(&h.ID, &h.BookID, &h.Text, &note, &pageNumber, &h.CreatedAt,
		&readwiseID, &syncedAt, &h.SyncStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if note.Valid {
		h.Note = &note.String
	}
	if pageNumber.Valid {
		h.PageNumber = &pageNumber.String
	}
	if readwiseID.Valid {
		h.ReadwiseID = &readwiseID.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		h.SyncedAt = &t
	}
	return &h, nil
}

func scanHighlightWithBook(row scannable) (*model.HighlightWithBook, error) {
	var hw model.HighlightWithBook
	var note, pageNumber, readwiseID sql.NullString
	var syncedAt sql.NullTime

	err := row.Scan(&hw.ID, &hw.BookID, &hw.Text, &note, &pageNumber, &hw.CreatedAt,
		&readwiseID, &syncedAt, &hw.SyncStatus, &hw.BookTitle, &hw.BookAuthor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if note.Valid {
		hw.Note = &note.String
	}
	if pageNumber.Valid {
		hw.PageNumber = &pageNumber.String
	}
	if readwiseID.Valid {
		hw.ReadwiseID = &readwiseID.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		hw.SyncedAt = &t
	}
	return &hw, nil
}

func collectHighlights(rows *sql.Rows) ([]model.Highlight, error) {
	var highlights []model.Highlight
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan highlight")
		}
		highlights = append(highlights, *h)
	}
	return highlights, eris.Wrap(rows.Err(), "sqlite: iterate highlights")
}

func collectHighlightsWithBook(rows *sql.Rows) ([]model.HighlightWithBook, error) {
	var highlights []model.HighlightWithBook
	for rows.Next() {
		hw, err := scanHighlightWithBook(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan highlight")
		}
		highlights = append(highlights, *hw)
	}
	return highlights, eris.Wrap(rows.Err(), "sqlite: iterate highlights")
}
