package api

import (
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/syncer"
)

func (s *Server) handleReadwiseStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sync.Status(r.Context())
	if err != nil {
		zap.L().Error("readwise status failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load readwise status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sync.SyncAll(r.Context())
	if err != nil {
		s.respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSyncBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := idParam(w, r, "bookID")
	if !ok {
		return
	}

	summary, err := s.sync.SyncBook(r.Context(), bookID)
	if err != nil {
		s.respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSyncHighlight(w http.ResponseWriter, r *http.Request) {
	highlightID, ok := idParam(w, r, "highlightID")
	if !ok {
		return
	}

	outcome, err := s.sync.SyncOne(r.Context(), highlightID)
	if err != nil {
		s.respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// respondSyncError maps syncer sentinels to HTTP statuses.
func (s *Server) respondSyncError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, syncer.ErrNotConfigured):
		respondError(w, http.StatusBadRequest, "readwise api token not configured")
	case eris.Is(err, syncer.ErrBookNotFound):
		respondError(w, http.StatusNotFound, "book not found")
	case eris.Is(err, syncer.ErrHighlightNotFound):
		respondError(w, http.StatusNotFound, "highlight not found")
	default:
		zap.L().Error("readwise sync failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "readwise sync failed")
	}
}
