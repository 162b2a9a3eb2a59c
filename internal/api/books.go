package api

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/model"
	"github.com/highlight-helper/highlight-helper/internal/store"
	"github.com/highlight-helper/highlight-helper/pkg/googlebooks"
)

type createBookRequest struct {
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	ISBN     *string `json:"isbn"`
	CoverURL *string `json:"cover_url"`
}

type updateBookRequest struct {
	Title    *string `json:"title"`
	Author   *string `json:"author"`
	ISBN     *string `json:"isbn"`
	CoverURL *string `json:"cover_url"`
}

type bookListResponse struct {
	Books []model.Book `json:"books"`
	Total int          `json:"total"`
}

type lookupResponse struct {
	Results []model.BookInfo `json:"results"`
}

type scanISBNResponse struct {
	ISBN       string           `json:"isbn"`
	Confidence string           `json:"confidence"`
	Source     string           `json:"source"`
	Results    []model.BookInfo `json:"results"`
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	filter := store.Unbounded
	filter.Search = strings.TrimSpace(r.URL.Query().Get("search"))

	books, total, err := s.st.ListBooks(r.Context(), filter)
	if err != nil {
		zap.L().Error("list books failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	respondJSON(w, http.StatusOK, bookListResponse{Books: books, Total: total})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if strings.TrimSpace(req.Author) == "" {
		respondError(w, http.StatusBadRequest, "author is required")
		return
	}

	book, err := s.st.CreateBook(r.Context(), model.Book{
		Title:    req.Title,
		Author:   req.Author,
		ISBN:     req.ISBN,
		CoverURL: req.CoverURL,
	})
	if err != nil {
		zap.L().Error("create book failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create book")
		return
	}
	respondJSON(w, http.StatusCreated, book)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bookID")
	if !ok {
		return
	}

	book, err := s.st.GetBook(r.Context(), id)
	if err != nil {
		zap.L().Error("get book failed", zap.Int64("book_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load book")
		return
	}
	if book == nil {
		respondError(w, http.StatusNotFound, "book not found")
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bookID")
	if !ok {
		return
	}

	var req updateBookRequest
	if !decodeBody(w, r, &req) {
		return
	}

	book, err := s.st.UpdateBook(r.Context(), id, store.BookUpdate{
		Title:    req.Title,
		Author:   req.Author,
		ISBN:     req.ISBN,
		CoverURL: req.CoverURL,
	})
	if err != nil {
		zap.L().Error("update book failed", zap.Int64("book_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update book")
		return
	}
	if book == nil {
		respondError(w, http.StatusNotFound, "book not found")
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bookID")
	if !ok {
		return
	}

	book, err := s.st.GetBook(r.Context(), id)
	if err != nil {
		zap.L().Error("get book failed", zap.Int64("book_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load book")
		return
	}
	if book == nil {
		respondError(w, http.StatusNotFound, "book not found")
		return
	}

	if err := s.st.DeleteBook(r.Context(), id); err != nil {
		zap.L().Error("delete book failed", zap.Int64("book_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete book")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLookupBooks searches external metadata by free text (?q=) or by
// ISBN (?isbn=).
func (s *Server) handleLookupBooks(w http.ResponseWriter, r *http.Request) {
	if s.books == nil {
		respondError(w, http.StatusServiceUnavailable, "book lookup not configured")
		return
	}

	if isbn := strings.TrimSpace(r.URL.Query().Get("isbn")); isbn != "" {
		book, err := s.books.SearchByISBN(r.Context(), isbn)
		if err != nil {
			zap.L().Warn("isbn lookup failed", zap.String("isbn", isbn), zap.Error(err))
			respondError(w, http.StatusBadGateway, "book lookup failed")
			return
		}
		results := []model.BookInfo{}
		if book != nil {
			results = append(results, toBookInfo(*book))
		}
		respondJSON(w, http.StatusOK, lookupResponse{Results: results})
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		respondError(w, http.StatusBadRequest, "search query must be at least 2 characters")
		return
	}

	found, err := s.books.Search(r.Context(), q, s.lookupMax)
	if err != nil {
		zap.L().Warn("book search failed", zap.String("query", q), zap.Error(err))
		respondError(w, http.StatusBadGateway, "book lookup failed")
		return
	}

	results := make([]model.BookInfo, 0, len(found))
	for _, b := range found {
		results = append(results, toBookInfo(b))
	}
	respondJSON(w, http.StatusOK, lookupResponse{Results: results})
}

// handleScanISBN reads an ISBN off an uploaded cover image and looks up the
// matching book metadata in one round trip.
func (s *Server) handleScanISBN(w http.ResponseWriter, r *http.Request) {
	if s.ext == nil {
		respondError(w, http.StatusServiceUnavailable, "extractor not configured")
		return
	}

	data, filename, ok := readImageUpload(w, r)
	if !ok {
		return
	}

	scan, err := s.ext.ExtractISBN(r.Context(), data, filename)
	if err != nil {
		zap.L().Error("isbn extraction failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "isbn extraction failed")
		return
	}

	resp := scanISBNResponse{
		ISBN:       scan.ISBN,
		Confidence: scan.Confidence,
		Source:     scan.Source,
		Results:    []model.BookInfo{},
	}

	if scan.ISBN != "" && s.books != nil {
		book, err := s.books.SearchByISBN(r.Context(), scan.ISBN)
		if err != nil {
			// Still return the scanned ISBN so the client can retry lookup.
			zap.L().Warn("isbn lookup after scan failed",
				zap.String("isbn", scan.ISBN), zap.Error(err))
		} else if book != nil {
			resp.Results = append(resp.Results, toBookInfo(*book))
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// readImageUpload pulls the "image" part out of a multipart form, enforcing
// the declared image/* content type and the 20MB size cap. Writes the error
// response itself and returns ok=false on rejection.
func readImageUpload(w http.ResponseWriter, r *http.Request) (data []byte, filename string, ok bool) {
	const maxImageBytes = 20 << 20

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return nil, "", false
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		respondError(w, http.StatusBadRequest, "file must be an image")
		return nil, "", false
	}

	data, err = io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return nil, "", false
	}
	if len(data) > maxImageBytes {
		respondError(w, http.StatusBadRequest, "image file too large (max 20MB)")
		return nil, "", false
	}

	filename = header.Filename
	if filename == "" {
		filename = "image.jpg"
	}
	return data, filename, true
}

func toBookInfo(b googlebooks.Book) model.BookInfo {
	return model.BookInfo{
		Title:       b.Title,
		Author:      b.Author,
		ISBN:        b.ISBN,
		CoverURL:    b.CoverURL,
		Description: b.Description,
	}
}
