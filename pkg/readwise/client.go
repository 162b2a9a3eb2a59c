// Package readwise provides a client for the Readwise highlights API (v2).
package readwise

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Readwise enforces hard field limits on highlight payloads. Longer values
// are rejected with a 400, so the client truncates before sending.
const (
	maxTextLen   = 8191
	maxTitleLen  = 511
	maxAuthorLen = 1024
	maxNoteLen   = 8191
)

// Client defines the Readwise operations used for highlight sync.
type Client interface {
	// Validate checks whether the configured token is accepted by Readwise.
	// Returns (false, nil) when the token is rejected, and a non-nil error
	// only for transport failures.
	Validate(ctx context.Context) (bool, error)
	// CreateHighlights pushes a batch of highlights and returns the books
	// Readwise reports as modified, in request order.
	CreateHighlights(ctx context.Context, highlights []HighlightInput) ([]ModifiedBook, error)
}

// HighlightInput is one highlight to push to Readwise.
type HighlightInput struct {
	Text          string
	Title         string
	Author        string
	Note          string
	PageNumber    *string
	HighlightedAt *time.Time
}

// ModifiedBook is one entry of the Readwise create response.
type ModifiedBook struct {
	ID                 int64   `json:"id"`
	Title              string  `json:"title"`
	ModifiedHighlights []int64 `json:"modified_highlights"`
}

// ModifiedIDs flattens the per-book highlight IDs in response order.
func ModifiedIDs(books []ModifiedBook) []int64 {
	var ids []int64
	for _, b := range books {
		ids = append(ids, b.ModifiedHighlights...)
	}
	return ids
}

// apiHighlight is the wire shape of POST /highlights/.
type apiHighlight struct {
	Text          string `json:"text"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Category      string `json:"category"`
	SourceType    string `json:"source_type"`
	Note          string `json:"note,omitempty"`
	Location      int    `json:"location,omitempty"`
	LocationType  string `json:"location_type,omitempty"`
	HighlightedAt string `json:"highlighted_at,omitempty"`
}

type createRequest struct {
	Highlights []apiHighlight `json:"highlights"`
}

// Option configures the Readwise client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the request budget in requests per minute.
func WithRateLimit(perMinute int) Option {
	return func(c *httpClient) {
		c.limiter = newLimiter(perMinute)
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Readwise client for the given access token. Requests
// are throttled to stay under the documented 240 requests/minute budget.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://readwise.io/api/v2",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: newLimiter(240),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Each attempt waits on the rate
// limiter first. Returns the response body and status code on success, or
// the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		retryReq := req.Clone(ctx)
		// Clone shares the consumed body, so rebuild it for each attempt.
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, 0, eris.Wrap(err, "readwise: rewind request body")
			}
			retryReq.Body = body
		}

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "readwise: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("readwise: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Validate(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/", nil)
	if err != nil {
		return false, eris.Wrap(err, "readwise: create auth request")
	}
	req.Header.Set("Authorization", "Token "+c.token)

	_, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return false, eris.Wrap(err, "readwise: auth request failed")
	}

	// Readwise answers 204 for a valid token and 401/403 otherwise.
	return statusCode == http.StatusNoContent, nil
}

func (c *httpClient) CreateHighlights(ctx context.Context, highlights []HighlightInput) ([]ModifiedBook, error) {
	if len(highlights) == 0 {
		return nil, nil
	}

	payload := createRequest{Highlights: make([]apiHighlight, 0, len(highlights))}
	for _, h := range highlights {
		payload.Highlights = append(payload.Highlights, toAPIHighlight(h))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "readwise: marshal highlights")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/highlights/", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "readwise: create highlights request")
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	respBody, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "readwise: highlights request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("readwise: unexpected status %d: %s", statusCode, string(respBody))
	}

	var books []ModifiedBook
	if err := json.Unmarshal(respBody, &books); err != nil {
		return nil, eris.Wrap(err, "readwise: unmarshal highlights response")
	}

	return books, nil
}

// toAPIHighlight converts an input to the wire shape, applying field limits.
// Numeric page numbers map to Readwise page locations; non-numeric pages
// ("ix", "42-43") have no location representation and are dropped.
func toAPIHighlight(h HighlightInput) apiHighlight {
	api := apiHighlight{
		Text:       truncate(h.Text, maxTextLen),
		Title:      truncate(h.Title, maxTitleLen),
		Author:     truncate(h.Author, maxAuthorLen),
		Category:   "books",
		SourceType: "highlight_helper",
		Note:       truncate(h.Note, maxNoteLen),
	}
	if h.PageNumber != nil {
		if page, err := strconv.Atoi(*h.PageNumber); err == nil && page > 0 {
			api.Location = page
			api.LocationType = "page"
		}
	}
	if h.HighlightedAt != nil {
		api.HighlightedAt = h.HighlightedAt.UTC().Format(time.RFC3339)
	}
	return api
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
