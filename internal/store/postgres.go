package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/highlight-helper/highlight-helper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_book":         `SELECT b.id, b.title, b.author, b.isbn, b.cover_url, b.created_at, (SELECT COUNT(*) FROM highlights h WHERE h.book_id = b.id) FROM books b WHERE b.id = $1`,
	"insert_highlight": `INSERT INTO highlights (book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
	"get_highlight":    `SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status FROM highlights WHERE id = $1`,
	"get_setting":      `SELECT value FROM app_settings WHERE key = $1`,
	"set_setting":      `INSERT INTO app_settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
	"mark_synced":      `UPDATE highlights SET readwise_id = $1, synced_at = $2, sync_status = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS books (
	id         BIGSERIAL PRIMARY KEY,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	isbn       TEXT,
	cover_url  TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS highlights (
	id          BIGSERIAL PRIMARY KEY,
	book_id     BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	note        TEXT,
	page_number TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	readwise_id TEXT,
	synced_at   TIMESTAMPTZ,
	sync_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS app_settings (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE INDEX IF NOT EXISTS idx_books_created_at ON books(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_highlights_book_id ON highlights(book_id);
CREATE INDEX IF NOT EXISTS idx_highlights_sync_status ON highlights(sync_status);
CREATE INDEX IF NOT EXISTS idx_highlights_created_at ON highlights(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Books ---

func (s *PostgresStore) CreateBook(ctx context.Context, book model.Book) (*model.Book, error) {
	now := time.Now().UTC()

	b := book
	b.CreatedAt = now
	b.HighlightCount = 0
	err := s.pool.QueryRow(ctx,
		`INSERT INTO books (title, author, isbn, cover_url, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		b.Title, b.Author, b.ISBN, b.CoverURL, now,
	).Scan(&b.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert book")
	}
	return &b, nil
}

func (s *PostgresStore) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT b.id, b.title, b.author, b.isbn, b.cover_url, b.created_at,
		        (SELECT COUNT(*) FROM highlights h WHERE h.book_id = b.id)
		 FROM books b WHERE b.id = $1`,
		id,
	)
	b, err := pgScanBook(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get book %d", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBooks(ctx context.Context, filter PageFilter) ([]model.Book, int, error) {
	// Postgres rejects negative limits; NULL means no limit.
	var limit any = filter.Limit
	if filter.Limit == 0 {
		limit = defaultListLimit
	} else if filter.Limit < 0 {
		limit = nil
	}

	where := ""
	var args []any
	if filter.Search != "" {
		where = `WHERE b.title ILIKE $3 OR b.author ILIKE $3`
		args = append(args, "%"+filter.Search+"%")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT b.id, b.title, b.author, b.isbn, b.cover_url, b.created_at,
		        COALESCE(hc.n, 0)
		 FROM books b
		 LEFT JOIN (SELECT book_id, COUNT(*) AS n FROM highlights GROUP BY book_id) hc
		        ON hc.book_id = b.id
		 `+where+`
		 ORDER BY b.created_at DESC
		 LIMIT $1 OFFSET $2`,
		append([]any{limit, filter.Offset}, args...)...,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list books")
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := pgScanBook(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan book")
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list books iterate")
	}

	countSQL := `SELECT COUNT(*) FROM books b`
	countArgs := []any{}
	if filter.Search != "" {
		countSQL += ` WHERE b.title ILIKE $1 OR b.author ILIKE $1`
		countArgs = append(countArgs, "%"+filter.Search+"%")
	}
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count books")
	}
	return books, total, nil
}

func (s *PostgresStore) UpdateBook(ctx context.Context, id int64, upd BookUpdate) (*model.Book, error) {
	var sets []string
	var args []any
	argIdx := 1

	if upd.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", argIdx))
		args = append(args, *upd.Title)
		argIdx++
	}
	if upd.Author != nil {
		sets = append(sets, fmt.Sprintf("author = $%d", argIdx))
		args = append(args, *upd.Author)
		argIdx++
	}
	if upd.ISBN != nil {
		sets = append(sets, fmt.Sprintf("isbn = $%d", argIdx))
		args = append(args, *upd.ISBN)
		argIdx++
	}
	if upd.CoverURL != nil {
		sets = append(sets, fmt.Sprintf("cover_url = $%d", argIdx))
		args = append(args, *upd.CoverURL)
		argIdx++
	}
	if len(sets) == 0 {
		return s.GetBook(ctx, id)
	}

	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE books SET %s WHERE id = $%d`, strings.Join(sets, ", "), argIdx),
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update book %d", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetBook(ctx, id)
}

func (s *PostgresStore) DeleteBook(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete book %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("book not found: %d", id)
	}
	return nil
}

// --- Highlights ---

func (s *PostgresStore) CreateHighlight(ctx context.Context, h model.Highlight) (*model.Highlight, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	h.CreatedAt = h.CreatedAt.UTC()
	if h.SyncStatus == "" {
		h.SyncStatus = model.SyncPending
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO highlights (book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		h.BookID, h.Text, h.Note, h.PageNumber, h.CreatedAt, h.ReadwiseID, h.SyncedAt, string(h.SyncStatus),
	).Scan(&h.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert highlight for book %d", h.BookID)
	}
	return &h, nil
}

func (s *PostgresStore) GetHighlight(ctx context.Context, id int64) (*model.Highlight, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status
		 FROM highlights WHERE id = $1`,
		id,
	)
	h, err := pgScanHighlight(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get highlight %d", id)
	}
	return h, nil
}

func (s *PostgresStore) GetHighlightWithBook(ctx context.Context, id int64) (*model.HighlightWithBook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT h.id, h.book_id, h.text, h.note, h.page_number, h.created_at,
		        h.readwise_id, h.synced_at, h.sync_status, b.title, b.author
		 FROM highlights h JOIN books b ON b.id = h.book_id
		 WHERE h.id = $1`,
		id,
	)
	hw, err := pgScanHighlightWithBook(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get highlight %d", id)
	}
	return hw, nil
}

func (s *PostgresStore) ListHighlights(ctx context.Context, filter PageFilter) ([]model.HighlightWithBook, error) {
	var limit any = filter.Limit
	if filter.Limit == 0 {
		limit = defaultListLimit
	} else if filter.Limit < 0 {
		limit = nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT h.id, h.book_id, h.text, h.note, h.page_number, h.created_at,
		        h.readwise_id, h.synced_at, h.sync_status, b.title, b.author
		 FROM highlights h JOIN books b ON b.id = h.book_id
		 ORDER BY h.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list highlights")
	}
	defer rows.Close()
	return pgCollectHighlightsWithBook(rows)
}

func (s *PostgresStore) ListHighlightsByBook(ctx context.Context, bookID int64) ([]model.Highlight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status
		 FROM highlights WHERE book_id = $1
		 ORDER BY created_at DESC`,
		bookID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list highlights for book %d", bookID)
	}
	defer rows.Close()
	return pgCollectHighlights(rows)
}

func (s *PostgresStore) UpdateHighlight(ctx context.Context, id int64, upd HighlightUpdate) (*model.Highlight, error) {
	var sets []string
	var args []any
	argIdx := 1

	if upd.Text != nil {
		sets = append(sets, fmt.Sprintf("text = $%d", argIdx))
		args = append(args, *upd.Text)
		argIdx++
	}
	if upd.Note != nil {
		sets = append(sets, fmt.Sprintf("note = $%d", argIdx))
		args = append(args, *upd.Note)
		argIdx++
	}
	if upd.PageNumber != nil {
		sets = append(sets, fmt.Sprintf("page_number = $%d", argIdx))
		args = append(args, *upd.PageNumber)
		argIdx++
	}
	if len(sets) == 0 {
		return s.GetHighlight(ctx, id)
	}

	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE highlights SET %s WHERE id = $%d`, strings.Join(sets, ", "), argIdx),
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update highlight %d", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetHighlight(ctx, id)
}

func (s *PostgresStore) DeleteHighlight(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM highlights WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete highlight %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("highlight not found: %d", id)
	}
	return nil
}

// --- Sync bookkeeping ---

func (s *PostgresStore) ListPendingHighlights(ctx context.Context) ([]model.HighlightWithBook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.id, h.book_id, h.text, h.note, h.page_number, h.created_at,
		        h.readwise_id, h.synced_at, h.sync_status, b.title, b.author
		 FROM highlights h JOIN books b ON b.id = h.book_id
		 WHERE h.sync_status = $1
		 ORDER BY h.id`,
		string(model.SyncPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending highlights")
	}
	defer rows.Close()
	return pgCollectHighlightsWithBook(rows)
}

func (s *PostgresStore) ListPendingHighlightsByBook(ctx context.Context, bookID int64) ([]model.Highlight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, book_id, text, note, page_number, created_at, readwise_id, synced_at, sync_status
		 FROM highlights WHERE book_id = $1 AND sync_status = $2
		 ORDER BY id`,
		bookID, string(model.SyncPending),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list pending highlights for book %d", bookID)
	}
	defer rows.Close()
	return pgCollectHighlights(rows)
}

func (s *PostgresStore) CountHighlightsByStatus(ctx context.Context, status model.SyncStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM highlights WHERE sync_status = $1`,
		string(status),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count highlights with status %s", status)
	}
	return n, nil
}

func (s *PostgresStore) MarkHighlightSynced(ctx context.Context, id int64, readwiseID *string, syncedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE highlights SET readwise_id = $1, synced_at = $2, sync_status = $3 WHERE id = $4`,
		readwiseID, syncedAt.UTC(), string(model.SyncSynced), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark highlight %d synced", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("highlight not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) SetHighlightSyncStatus(ctx context.Context, id int64, status model.SyncStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE highlights SET sync_status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set sync status for highlight %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("highlight not found: %d", id)
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	setting := model.Setting{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM app_settings WHERE key = $1`,
		key,
	).Scan(&setting.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return &setting, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key string, value *string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

// scan helpers

func pgScanBook(row scannable) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.CoverURL, &b.CreatedAt, &b.HighlightCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func pgScanHighlight(row scannable) (*model.Highlight, error) {
	var h model.Highlight
	err := row.Scan(&h.ID, &h.BookID, &h.Text, &h.Note, &h.PageNumber, &h.CreatedAt,
		&h.ReadwiseID, &h.SyncedAt, &h.SyncStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func pgScanHighlightWithBook(row scannable) (*model.HighlightWithBook, error) {
	var hw model.HighlightWithBook
	err := row.Scan(&hw.ID, &hw.BookID, &hw.Text, &hw.Note, &hw.PageNumber, &hw.CreatedAt,
		&hw.ReadwiseID, &hw.SyncedAt, &hw.SyncStatus, &hw.BookTitle, &hw.BookAuthor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hw, nil
}

func pgCollectHighlights(rows pgx.Rows) ([]model.Highlight, error) {
	var highlights []model.Highlight
	for rows.Next() {
		h, err := pgScanHighlight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan highlight")
		}
		highlights = append(highlights, *h)
	}
	return highlights, eris.Wrap(rows.Err(), "postgres: iterate highlights")
}

func pgCollectHighlightsWithBook(rows pgx.Rows) ([]model.HighlightWithBook, error) {
	var highlights []model.HighlightWithBook
	for rows.Next() {
		hw, err := pgScanHighlightWithBook(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan highlight")
		}
		highlights = append(highlights, *hw)
	}
	return highlights, eris.Wrap(rows.Err(), "postgres: iterate highlights")
}
