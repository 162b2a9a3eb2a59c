package model

import "time"

// SyncStatus tracks where a highlight stands relative to Readwise.
type SyncStatus string

const (
	// SyncPending means the highlight has not been sent to Readwise yet.
	SyncPending SyncStatus = "pending"
	// SyncSynced means the highlight was successfully sent to Readwise.
	SyncSynced SyncStatus = "synced"
	// SyncRemovedExternally means the highlight was synced but later
	// deleted by the user inside Readwise; it is not re-synced.
	SyncRemovedExternally SyncStatus = "removed_externally"
)

// Valid reports whether s is one of the known sync states.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncRemovedExternally:
		return true
	}
	return false
}

// Highlight represents one captured passage from a book.
type Highlight struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"book_id"`
	Text       string     `json:"text"`
	Note       *string    `json:"note"`
	PageNumber *string    `json:"page_number"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadwiseID *string    `json:"readwise_id"`
	SyncedAt   *time.Time `json:"synced_at"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// HighlightWithBook joins a highlight with its book's display fields for
// cross-book listings and sync payloads.
type HighlightWithBook struct {
	Highlight
	BookTitle  string `json:"book_title"`
	BookAuthor string `json:"book_author"`
}
