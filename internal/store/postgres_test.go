package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlight-helper/highlight-helper/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func ptr(s string) *string { return &s }

func bookColumns() []string {
	return []string{"id", "title", "author", "isbn", "cover_url", "created_at", "highlight_count"}
}

func highlightColumns() []string {
	return []string{"id", "book_id", "text", "note", "page_number", "created_at", "readwise_id", "synced_at", "sync_status"}
}

func highlightWithBookColumns() []string {
	return append(highlightColumns(), "title", "author")
}

func TestPostgres_Migrate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS books").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateBook(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO books").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	book, err := st.CreateBook(context.Background(), model.Book{Title: "Dune", Author: "Herbert"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), book.ID)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, 0, book.HighlightCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetBook(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM books b WHERE b.id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(bookColumns()).
			AddRow(int64(7), "Dune", "Herbert", ptr("9780441013593"), (*string)(nil), created, 3))

	book, err := st.GetBook(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, "Dune", book.Title)
	require.NotNil(t, book.ISBN)
	assert.Equal(t, "9780441013593", *book.ISBN)
	assert.Nil(t, book.CoverURL)
	assert.Equal(t, created, book.CreatedAt)
	assert.Equal(t, 3, book.HighlightCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetBookMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("FROM books b WHERE b.id").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	book, err := st.GetBook(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, book)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListBooks(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("LEFT JOIN").
		WillReturnRows(pgxmock.NewRows(bookColumns()).
			AddRow(int64(2), "Second", "B", (*string)(nil), (*string)(nil), created, 0).
			AddRow(int64(1), "First", "A", (*string)(nil), (*string)(nil), created, 2))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	books, total, err := st.ListBooks(context.Background(), PageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, books, 2)
	assert.Equal(t, "Second", books[0].Title)
	assert.Equal(t, 2, books[1].HighlightCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListBooksSearch(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("ILIKE").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "%go%").
		WillReturnRows(pgxmock.NewRows(bookColumns()).
			AddRow(int64(1), "Learning Go", "Bodner", (*string)(nil), (*string)(nil), created, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("%go%").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	books, total, err := st.ListBooks(context.Background(), PageFilter{Search: "go"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, books, 1)
	assert.Equal(t, "Learning Go", books[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateBook(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE books SET title").
		WithArgs("New Title", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("FROM books b WHERE b.id").
		WillReturnRows(pgxmock.NewRows(bookColumns()).
			AddRow(int64(1), "New Title", "A", (*string)(nil), (*string)(nil), created, 0))

	book, err := st.UpdateBook(context.Background(), 1, BookUpdate{Title: ptr("New Title")})
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, "New Title", book.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateBookMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE books SET title").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	book, err := st.UpdateBook(context.Background(), 99, BookUpdate{Title: ptr("x")})
	require.NoError(t, err)
	assert.Nil(t, book)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteBook(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM books").
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, st.DeleteBook(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteBookMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM books").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := st.DeleteBook(context.Background(), 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "book not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateHighlight(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO highlights").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	h, err := st.CreateHighlight(context.Background(), model.Highlight{BookID: 1, Text: "a passage"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), h.ID)
	assert.Equal(t, model.SyncPending, h.SyncStatus)
	assert.False(t, h.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetHighlightWithBook(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("JOIN books b ON").
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows(highlightWithBookColumns()).
			AddRow(int64(11), int64(1), "a passage", (*string)(nil), ptr("42"), created,
				(*string)(nil), (*time.Time)(nil), model.SyncPending, "Dune", "Herbert"))

	hw, err := st.GetHighlightWithBook(context.Background(), 11)
	require.NoError(t, err)
	require.NotNil(t, hw)
	assert.Equal(t, "a passage", hw.Text)
	assert.Equal(t, "Dune", hw.BookTitle)
	require.NotNil(t, hw.PageNumber)
	assert.Equal(t, "42", *hw.PageNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListPendingHighlights(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE h.sync_status").
		WithArgs("pending").
		WillReturnRows(pgxmock.NewRows(highlightWithBookColumns()).
			AddRow(int64(1), int64(1), "first", (*string)(nil), (*string)(nil), created,
				(*string)(nil), (*time.Time)(nil), model.SyncPending, "Dune", "Herbert").
			AddRow(int64(2), int64(1), "second", (*string)(nil), (*string)(nil), created,
				(*string)(nil), (*time.Time)(nil), model.SyncPending, "Dune", "Herbert"))

	pending, err := st.ListPendingHighlights(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkHighlightSynced(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE highlights SET readwise_id").
		WithArgs(ptr("rw-9"), pgxmock.AnyArg(), "synced", int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.MarkHighlightSynced(context.Background(), 11, ptr("rw-9"), time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkHighlightSyncedMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE highlights SET readwise_id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.MarkHighlightSynced(context.Background(), 99, nil, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "highlight not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountHighlightsByStatus(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("pending").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := st.CountHighlightsByStatus(context.Background(), model.SyncPending)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Settings(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT value FROM app_settings").
		WithArgs("readwise_api_token").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(ptr("tok")))

	setting, err := st.GetSetting(context.Background(), "readwise_api_token")
	require.NoError(t, err)
	require.NotNil(t, setting)
	require.NotNil(t, setting.Value)
	assert.Equal(t, "tok", *setting.Value)

	mock.ExpectQuery("SELECT value FROM app_settings").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	setting, err = st.GetSetting(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, setting)

	mock.ExpectExec("INSERT INTO app_settings").
		WithArgs("readwise_api_token", ptr("new")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SetSetting(context.Background(), "readwise_api_token", ptr("new")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("FROM books b WHERE b.id").
		WillReturnError(fmt.Errorf("connection lost"))

	_, err := st.GetBook(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.NoError(t, mock.ExpectationsWereMet())
}
