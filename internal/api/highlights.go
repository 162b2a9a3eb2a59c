package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/model"
	"github.com/highlight-helper/highlight-helper/internal/store"
)

// defaultInstructions drives extraction when the client sends none.
const defaultInstructions = "Extract the highlighted text from this page"

type createHighlightRequest struct {
	Text       string  `json:"text"`
	Note       *string `json:"note"`
	PageNumber *string `json:"page_number"`
}

type updateHighlightRequest struct {
	Text       *string `json:"text"`
	Note       *string `json:"note"`
	PageNumber *string `json:"page_number"`
}

func (s *Server) handleListBookHighlights(w http.ResponseWriter, r *http.Request) {
	bookID, ok := idParam(w, r, "bookID")
	if !ok {
		return
	}

	book, err := s.st.GetBook(r.Context(), bookID)
	if err != nil {
		zap.L().Error("get book failed", zap.Int64("book_id", bookID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load book")
		return
	}
	if book == nil {
		respondError(w, http.StatusNotFound, "book not found")
		return
	}

	highlights, err := s.st.ListHighlightsByBook(r.Context(), bookID)
	if err != nil {
		zap.L().Error("list highlights failed", zap.Int64("book_id", bookID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list highlights")
		return
	}
	if highlights == nil {
		highlights = []model.Highlight{}
	}
	respondJSON(w, http.StatusOK, highlights)
}

func (s *Server) handleCreateHighlight(w http.ResponseWriter, r *http.Request) {
	bookID, ok := idParam(w, r, "bookID")
	if !ok {
		return
	}

	var req createHighlightRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	book, err := s.st.GetBook(r.Context(), bookID)
	if err != nil {
		zap.L().Error("get book failed", zap.Int64("book_id", bookID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load book")
		return
	}
	if book == nil {
		respondError(w, http.StatusNotFound, "book not found")
		return
	}

	highlight, err := s.st.CreateHighlight(r.Context(), model.Highlight{
		BookID:     bookID,
		Text:       req.Text,
		Note:       req.Note,
		PageNumber: req.PageNumber,
	})
	if err != nil {
		zap.L().Error("create highlight failed", zap.Int64("book_id", bookID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create highlight")
		return
	}

	if s.sync != nil {
		s.sync.AutoSync(highlight.ID)
	}

	respondJSON(w, http.StatusCreated, highlight)
}

func (s *Server) handleListHighlights(w http.ResponseWriter, r *http.Request) {
	highlights, err := s.st.ListHighlights(r.Context(), store.Unbounded)
	if err != nil {
		zap.L().Error("list highlights failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list highlights")
		return
	}
	if highlights == nil {
		highlights = []model.HighlightWithBook{}
	}
	respondJSON(w, http.StatusOK, highlights)
}

func (s *Server) handleGetHighlight(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "highlightID")
	if !ok {
		return
	}

	highlight, err := s.st.GetHighlight(r.Context(), id)
	if err != nil {
		zap.L().Error("get highlight failed", zap.Int64("highlight_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load highlight")
		return
	}
	if highlight == nil {
		respondError(w, http.StatusNotFound, "highlight not found")
		return
	}
	respondJSON(w, http.StatusOK, highlight)
}

func (s *Server) handleUpdateHighlight(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "highlightID")
	if !ok {
		return
	}

	var req updateHighlightRequest
	if !decodeBody(w, r, &req) {
		return
	}

	highlight, err := s.st.UpdateHighlight(r.Context(), id, store.HighlightUpdate{
		Text:       req.Text,
		Note:       req.Note,
		PageNumber: req.PageNumber,
	})
	if err != nil {
		zap.L().Error("update highlight failed", zap.Int64("highlight_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update highlight")
		return
	}
	if highlight == nil {
		respondError(w, http.StatusNotFound, "highlight not found")
		return
	}
	respondJSON(w, http.StatusOK, highlight)
}

func (s *Server) handleDeleteHighlight(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "highlightID")
	if !ok {
		return
	}

	highlight, err := s.st.GetHighlight(r.Context(), id)
	if err != nil {
		zap.L().Error("get highlight failed", zap.Int64("highlight_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load highlight")
		return
	}
	if highlight == nil {
		respondError(w, http.StatusNotFound, "highlight not found")
		return
	}

	if err := s.st.DeleteHighlight(r.Context(), id); err != nil {
		zap.L().Error("delete highlight failed", zap.Int64("highlight_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete highlight")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExtract runs vision extraction on an uploaded page image. The result
// is returned for review, not stored; the client follows up with a create
// call once the user confirms the text.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.ext == nil {
		respondError(w, http.StatusServiceUnavailable, "extractor not configured")
		return
	}

	data, filename, ok := readImageUpload(w, r)
	if !ok {
		return
	}

	instructions := strings.TrimSpace(r.FormValue("instructions"))
	if instructions == "" {
		instructions = defaultInstructions
	}

	result, err := s.ext.Extract(r.Context(), data, filename, instructions)
	if err != nil {
		zap.L().Error("extraction failed", zap.String("filename", filename), zap.Error(err))
		respondError(w, http.StatusBadGateway, "extraction failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}
