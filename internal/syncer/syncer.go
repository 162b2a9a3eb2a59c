// Package syncer pushes highlights to Readwise and keeps the local sync
// bookkeeping in step with what the remote accepted.
package syncer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/model"
	"github.com/highlight-helper/highlight-helper/internal/resilience"
	"github.com/highlight-helper/highlight-helper/internal/store"
	"github.com/highlight-helper/highlight-helper/pkg/readwise"
)

var (
	// ErrNotConfigured is returned when no Readwise token is available from
	// either the settings store or the config file.
	ErrNotConfigured = eris.New("syncer: readwise token not configured")
	// ErrBookNotFound is returned by SyncBook for an unknown book ID.
	ErrBookNotFound = eris.New("syncer: book not found")
	// ErrHighlightNotFound is returned by SyncOne for an unknown highlight ID.
	ErrHighlightNotFound = eris.New("syncer: highlight not found")
)

const defaultBatchSize = 100

// ClientFactory builds a Readwise client for a token. The token lives in the
// settings store and can change between calls, so clients are constructed per
// operation rather than held.
type ClientFactory func(token string) readwise.Client

// Status reports the Readwise integration state.
type Status struct {
	Configured bool  `json:"configured"`
	TokenValid *bool `json:"token_valid"`
	Pending    int   `json:"pending"`
	Synced     int   `json:"synced"`
}

// Summary reports the outcome of a batch sync. AlreadySynced counts the
// highlights that were in the synced state before this run started.
type Summary struct {
	Total         int `json:"total"`
	Synced        int `json:"synced"`
	Failed        int `json:"failed"`
	AlreadySynced int `json:"already_synced"`
}

// Outcome reports the result of syncing a single highlight. A Readwise-side
// rejection is carried in Error rather than returned as a Go error.
type Outcome struct {
	Success    bool    `json:"success"`
	ReadwiseID *string `json:"readwise_id"`
	Error      *string `json:"error"`
}

// Syncer coordinates highlight pushes between the store and Readwise.
type Syncer struct {
	st        store.Store
	cfgToken  string
	factory   ClientFactory
	breaker   *resilience.CircuitBreaker
	batchSize int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBatchSize sets how many highlights go into one Readwise request.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Syncer) {
		s.breaker = cb
	}
}

// New creates a Syncer. cfgToken is the config-file fallback used when the
// settings store holds no token. A nil factory uses the production Readwise
// client.
func New(st store.Store, cfgToken string, factory ClientFactory, opts ...Option) *Syncer {
	if factory == nil {
		factory = func(token string) readwise.Client {
			return readwise.NewClient(token)
		}
	}
	s := &Syncer{
		st:        st,
		cfgToken:  cfgToken,
		factory:   factory,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("readwise circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}
		s.breaker = resilience.NewCircuitBreaker(cfg)
	}
	return s
}

// Token resolves the Readwise token, preferring the settings store over the
// config fallback. Returns "" when neither is set.
func (s *Syncer) Token(ctx context.Context) (string, error) {
	setting, err := s.st.GetSetting(ctx, model.SettingReadwiseToken)
	if err != nil {
		return "", err
	}
	if setting != nil && setting.Value != nil && *setting.Value != "" {
		return *setting.Value, nil
	}
	return s.cfgToken, nil
}

// Configured reports whether a Readwise token is available.
func (s *Syncer) Configured(ctx context.Context) (bool, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// ValidateToken checks the stored token against the Readwise auth endpoint.
// Transport failures count as invalid rather than surfacing as errors, so
// the settings UI can always render a yes/no answer.
func (s *Syncer) ValidateToken(ctx context.Context) (configured bool, valid *bool, err error) {
	token, err := s.Token(ctx)
	if err != nil {
		return false, nil, err
	}
	if token == "" {
		return false, nil, nil
	}

	ok, verr := s.factory(token).Validate(ctx)
	if verr != nil {
		zap.L().Warn("readwise token validation failed", zap.Error(verr))
		ok = false
	}
	return true, &ok, nil
}

// AutoSyncEnabled reports whether newly created highlights should be pushed
// to Readwise in the background.
func (s *Syncer) AutoSyncEnabled(ctx context.Context) (bool, error) {
	setting, err := s.st.GetSetting(ctx, model.SettingReadwiseAutoSync)
	if err != nil {
		return false, err
	}
	if setting == nil || setting.Value == nil {
		return false, nil
	}
	switch strings.ToLower(*setting.Value) {
	case "true", "1", "yes", "on":
		return true, nil
	}
	return false, nil
}

// Status reports configuration, token validity, and sync counts.
func (s *Syncer) Status(ctx context.Context) (*Status, error) {
	configured, valid, err := s.ValidateToken(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := s.st.CountHighlightsByStatus(ctx, model.SyncPending)
	if err != nil {
		return nil, err
	}
	synced, err := s.st.CountHighlightsByStatus(ctx, model.SyncSynced)
	if err != nil {
		return nil, err
	}

	return &Status{
		Configured: configured,
		TokenValid: valid,
		Pending:    pending,
		Synced:     synced,
	}, nil
}

// pushItem pairs a local highlight ID with its Readwise payload.
type pushItem struct {
	id    int64
	input readwise.HighlightInput
}

// SyncAll pushes every pending highlight across all books.
func (s *Syncer) SyncAll(ctx context.Context) (*Summary, error) {
	token, err := s.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.st.ListPendingHighlights(ctx)
	if err != nil {
		return nil, err
	}
	alreadySynced, err := s.st.CountHighlightsByStatus(ctx, model.SyncSynced)
	if err != nil {
		return nil, err
	}

	items := make([]pushItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, pushItem{
			id:    row.ID,
			input: highlightInput(row.Highlight, row.BookTitle, row.BookAuthor),
		})
	}
	summary := s.push(ctx, token, items)
	summary.AlreadySynced = alreadySynced
	return summary, nil
}

// SyncBook pushes the pending highlights of a single book.
func (s *Syncer) SyncBook(ctx context.Context, bookID int64) (*Summary, error) {
	token, err := s.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	book, err := s.st.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, ErrBookNotFound
	}

	rows, err := s.st.ListPendingHighlightsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	all, err := s.st.ListHighlightsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	alreadySynced := 0
	for _, h := range all {
		if h.SyncStatus == model.SyncSynced {
			alreadySynced++
		}
	}

	items := make([]pushItem, 0, len(rows))
	for _, h := range rows {
		items = append(items, pushItem{
			id:    h.ID,
			input: highlightInput(h, book.Title, book.Author),
		})
	}
	summary := s.push(ctx, token, items)
	summary.AlreadySynced = alreadySynced
	return summary, nil
}

// SyncOne pushes a single highlight regardless of its current sync state.
func (s *Syncer) SyncOne(ctx context.Context, highlightID int64) (*Outcome, error) {
	token, err := s.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	row, err := s.st.GetHighlightWithBook(ctx, highlightID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrHighlightNotFound
	}

	client := s.factory(token)
	input := highlightInput(row.Highlight, row.BookTitle, row.BookAuthor)
	books, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]readwise.ModifiedBook, error) {
		return client.CreateHighlights(ctx, []readwise.HighlightInput{input})
	})
	if err != nil {
		msg := err.Error()
		zap.L().Warn("highlight sync failed",
			zap.Int64("highlight_id", highlightID),
			zap.Error(err))
		return &Outcome{Success: false, Error: &msg}, nil
	}

	var readwiseID *string
	if ids := readwise.ModifiedIDs(books); len(ids) > 0 {
		rid := strconv.FormatInt(ids[0], 10)
		readwiseID = &rid
	}

	if err := s.st.MarkHighlightSynced(ctx, highlightID, readwiseID, time.Now().UTC()); err != nil {
		return nil, err
	}

	zap.L().Info("highlight synced to readwise", zap.Int64("highlight_id", highlightID))
	return &Outcome{Success: true, ReadwiseID: readwiseID}, nil
}

// AutoSync pushes a freshly created highlight in the background when the
// auto-sync setting is on. Failures are logged, never surfaced: the highlight
// stays pending and is picked up by the next batch sync.
func (s *Syncer) AutoSync(highlightID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		enabled, err := s.AutoSyncEnabled(ctx)
		if err != nil {
			zap.L().Warn("auto-sync setting lookup failed", zap.Error(err))
			return
		}
		if !enabled {
			return
		}

		outcome, err := s.SyncOne(ctx, highlightID)
		switch {
		case eris.Is(err, ErrNotConfigured):
			zap.L().Debug("auto-sync skipped, readwise not configured",
				zap.Int64("highlight_id", highlightID))
		case err != nil:
			zap.L().Warn("auto-sync failed",
				zap.Int64("highlight_id", highlightID),
				zap.Error(err))
		case !outcome.Success:
			zap.L().Warn("auto-sync rejected by readwise",
				zap.Int64("highlight_id", highlightID),
				zap.Stringp("error", outcome.Error))
		}
	}()
}

func (s *Syncer) requireToken(ctx context.Context) (string, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotConfigured
	}
	return token, nil
}

// push sends items in batches through the circuit breaker and marks the
// accepted ones synced. Readwise returns 200 for deduplicated highlights too,
// so every item of an accepted batch counts as synced even when it produced
// no new remote ID.
func (s *Syncer) push(ctx context.Context, token string, items []pushItem) *Summary {
	summary := &Summary{Total: len(items)}
	if len(items) == 0 {
		return summary
	}

	client := s.factory(token)
	for start := 0; start < len(items); start += s.batchSize {
		end := start + s.batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		inputs := make([]readwise.HighlightInput, len(batch))
		for i, item := range batch {
			inputs[i] = item.input
		}

		books, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]readwise.ModifiedBook, error) {
			return client.CreateHighlights(ctx, inputs)
		})
		if eris.Is(err, resilience.ErrCircuitOpen) {
			zap.L().Warn("readwise circuit open, aborting sync",
				zap.Int("remaining", len(items)-start))
			summary.Failed += len(items) - start
			return summary
		}
		if err != nil {
			zap.L().Warn("readwise batch failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			summary.Failed += len(batch)
			continue
		}

		ids := readwise.ModifiedIDs(books)
		now := time.Now().UTC()
		for i, item := range batch {
			var readwiseID *string
			if i < len(ids) {
				rid := strconv.FormatInt(ids[i], 10)
				readwiseID = &rid
			}
			if err := s.st.MarkHighlightSynced(ctx, item.id, readwiseID, now); err != nil {
				zap.L().Error("failed to record sync state",
					zap.Int64("highlight_id", item.id),
					zap.Error(err))
			}
		}
		summary.Synced += len(batch)
	}

	zap.L().Info("readwise sync finished",
		zap.Int("total", summary.Total),
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed))
	return summary
}

func highlightInput(h model.Highlight, title, author string) readwise.HighlightInput {
	created := h.CreatedAt
	input := readwise.HighlightInput{
		Text:          h.Text,
		Title:         title,
		Author:        author,
		PageNumber:    h.PageNumber,
		HighlightedAt: &created,
	}
	if h.Note != nil {
		input.Note = *h.Note
	}
	return input
}
