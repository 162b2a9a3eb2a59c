// Package googlebooks provides a client for the Google Books volumes API.
package googlebooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Google Books caps maxResults at 40 per request.
const maxResultsCap = 40

// Client defines the book metadata lookup operations.
type Client interface {
	// Search queries volumes by free text and returns up to maxResults books.
	Search(ctx context.Context, query string, maxResults int) ([]Book, error)
	// SearchByISBN looks up a single volume by ISBN. Returns (nil, nil) when
	// no volume matches.
	SearchByISBN(ctx context.Context, isbn string) (*Book, error)
}

// Book is a volume reduced to the fields the highlight collection uses.
type Book struct {
	Title       string
	Author      string
	ISBN        *string
	CoverURL    *string
	Description *string
}

// volumesResponse mirrors the volumes API shape we consume.
type volumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type volumeInfo struct {
	Title               string               `json:"title"`
	Authors             []string             `json:"authors"`
	Description         string               `json:"description"`
	IndustryIdentifiers []industryIdentifier `json:"industryIdentifiers"`
	ImageLinks          imageLinks           `json:"imageLinks"`
}

type industryIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type imageLinks struct {
	Thumbnail      string `json:"thumbnail"`
	SmallThumbnail string `json:"smallThumbnail"`
}

// Option configures the Google Books client.
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

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Books client. The volumes endpoint is public,
// so no API key is required.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://www.googleapis.com/books/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503).
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

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
			return nil, resp.StatusCode, eris.Wrap(readErr, "googlebooks: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("googlebooks: status %d: %s", resp.StatusCode, string(body))
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

func (c *httpClient) Search(ctx context.Context, query string, maxResults int) ([]Book, error) {
	if strings.TrimSpace(query) == "" {
		return nil, eris.New("googlebooks: empty query")
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("printType", "books")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/volumes?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "googlebooks: create request")
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "googlebooks: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("googlebooks: unexpected status %d: %s", statusCode, string(body))
	}

	var result volumesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "googlebooks: unmarshal response")
	}

	books := make([]Book, 0, len(result.Items))
	for _, item := range result.Items {
		books = append(books, toBook(item.VolumeInfo))
	}
	return books, nil
}

func (c *httpClient) SearchByISBN(ctx context.Context, isbn string) (*Book, error) {
	digits := normalizeISBN(isbn)
	if digits == "" {
		return nil, eris.New("googlebooks: empty isbn")
	}

	books, err := c.Search(ctx, "isbn:"+digits, 1)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, nil
	}
	return &books[0], nil
}

// toBook maps a volume to the reduced shape, applying the fallbacks the UI
// expects for missing metadata.
func toBook(info volumeInfo) Book {
	b := Book{
		Title:  info.Title,
		Author: strings.Join(info.Authors, ", "),
	}
	if b.Title == "" {
		b.Title = "Unknown Title"
	}
	if b.Author == "" {
		b.Author = "Unknown Author"
	}

	if isbn := pickISBN(info.IndustryIdentifiers); isbn != "" {
		b.ISBN = &isbn
	}
	if cover := secureURL(info.ImageLinks.Thumbnail); cover != "" {
		b.CoverURL = &cover
	}
	if info.Description != "" {
		desc := info.Description
		b.Description = &desc
	}
	return b
}

// pickISBN prefers ISBN_13 over ISBN_10 and ignores other identifier types.
func pickISBN(ids []industryIdentifier) string {
	var isbn10 string
	for _, id := range ids {
		switch id.Type {
		case "ISBN_13":
			return id.Identifier
		case "ISBN_10":
			if isbn10 == "" {
				isbn10 = id.Identifier
			}
		}
	}
	return isbn10
}

// secureURL upgrades Google's http thumbnail links to https.
func secureURL(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// normalizeISBN strips separators and keeps digits plus a trailing X check
// digit as used by ISBN-10.
func normalizeISBN(isbn string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(isbn) {
		if (r >= '0' && r <= '9') || r == 'X' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
