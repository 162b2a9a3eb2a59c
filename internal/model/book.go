package model

import "time"

// Book represents a book that highlights are collected from.
type Book struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	ISBN      *string   `json:"isbn"`
	CoverURL  *string   `json:"cover_url"`
	CreatedAt time.Time `json:"created_at"`

	// HighlightCount is filled by list queries; it is not a stored column.
	HighlightCount int `json:"highlight_count"`
}

// BookInfo is a book search result from an external metadata source.
type BookInfo struct {
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	ISBN        *string `json:"isbn"`
	CoverURL    *string `json:"cover_url"`
	Description *string `json:"description"`
}
