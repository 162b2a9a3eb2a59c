// Package store persists books, highlights, and application settings behind
// a driver-agnostic interface with SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/highlight-helper/highlight-helper/internal/model"
)

// PageFilter bounds list queries. A Limit of zero falls back to the store
// default of 50 rows; a negative Limit disables the cap. A non-empty Search
// restricts book listings to rows whose title or author contains the term
// (case-insensitive).
type PageFilter struct {
	Offset int
	Limit  int
	Search string
}

// Unbounded lists every row.
var Unbounded = PageFilter{Limit: -1}

// BookUpdate holds partial changes for a book. Nil fields are left untouched.
type BookUpdate struct {
	Title    *string
	Author   *string
	ISBN     *string
	CoverURL *string
}

// HighlightUpdate holds partial changes for a highlight. Nil fields are left
// untouched.
type HighlightUpdate struct {
	Text       *string
	Note       *string
	PageNumber *string
}

// Store defines the persistence interface for the highlight library.
//
// Get and Update methods return (nil, nil) when the requested row does not
// exist so callers can map missing rows to 404 responses without string
// matching on errors.
type Store interface {
	// Books
	CreateBook(ctx context.Context, book model.Book) (*model.Book, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	ListBooks(ctx context.Context, filter PageFilter) ([]model.Book, int, error)
	UpdateBook(ctx context.Context, id int64, upd BookUpdate) (*model.Book, error)
	DeleteBook(ctx context.Context, id int64) error

	// Highlights
	CreateHighlight(ctx context.Context, h model.Highlight) (*model.Highlight, error)
	GetHighlight(ctx context.Context, id int64) (*model.Highlight, error)
	GetHighlightWithBook(ctx context.Context, id int64) (*model.HighlightWithBook, error)
	ListHighlights(ctx context.Context, filter PageFilter) ([]model.HighlightWithBook, error)
	ListHighlightsByBook(ctx context.Context, bookID int64) ([]model.Highlight, error)
	UpdateHighlight(ctx context.Context, id int64, upd HighlightUpdate) (*model.Highlight, error)
	DeleteHighlight(ctx context.Context, id int64) error

	// Readwise sync bookkeeping
	ListPendingHighlights(ctx context.Context) ([]model.HighlightWithBook, error)
	ListPendingHighlightsByBook(ctx context.Context, bookID int64) ([]model.Highlight, error)
	CountHighlightsByStatus(ctx context.Context, status model.SyncStatus) (int, error)
	MarkHighlightSynced(ctx context.Context, id int64, readwiseID *string, syncedAt time.Time) error
	SetHighlightSyncStatus(ctx context.Context, id int64, status model.SyncStatus) error

	// Settings
	GetSetting(ctx context.Context, key string) (*model.Setting, error)
	SetSetting(ctx context.Context, key string, value *string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Pool is the subset of pgxpool.Pool the Postgres store depends on. Tests
// substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const defaultListLimit = 50
