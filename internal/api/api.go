// Package api exposes the highlight collection over HTTP: book and highlight
// CRUD, image extraction, metadata lookup, settings, and Readwise sync.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/extractor"
	"github.com/highlight-helper/highlight-helper/internal/store"
	"github.com/highlight-helper/highlight-helper/internal/syncer"
	"github.com/highlight-helper/highlight-helper/pkg/googlebooks"
)

// Params collects the dependencies of a Server.
type Params struct {
	Store            store.Store
	Extractor        extractor.Provider
	Books            googlebooks.Client
	Syncer           *syncer.Syncer
	AllowedOrigins   []string
	LookupMaxResults int
}

// Server holds the HTTP handlers for the highlight collection API.
type Server struct {
	st        store.Store
	ext       extractor.Provider
	books     googlebooks.Client
	sync      *syncer.Syncer
	origins   []string
	lookupMax int
}

// New creates a Server. Extractor and Books may be nil when the deployment
// has no provider credentials; the endpoints that need them answer 503.
func New(p Params) *Server {
	if p.LookupMaxResults <= 0 {
		p.LookupMaxResults = 10
	}
	return &Server{
		st:        p.Store,
		ext:       p.Extractor,
		books:     p.Books,
		sync:      p.Syncer,
		origins:   p.AllowedOrigins,
		lookupMax: p.LookupMaxResults,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.handleListBooks)
			r.Post("/", s.handleCreateBook)
			r.Get("/lookup", s.handleLookupBooks)
			r.Post("/scan-isbn", s.handleScanISBN)
			r.Route("/{bookID}", func(r chi.Router) {
				r.Get("/", s.handleGetBook)
				r.Patch("/", s.handleUpdateBook)
				r.Delete("/", s.handleDeleteBook)
				r.Get("/highlights", s.handleListBookHighlights)
				r.Post("/highlights", s.handleCreateHighlight)
			})
		})

		r.Route("/highlights", func(r chi.Router) {
			r.Get("/", s.handleListHighlights)
			r.Post("/extract", s.handleExtract)
			r.Route("/{highlightID}", func(r chi.Router) {
				r.Get("/", s.handleGetHighlight)
				r.Patch("/", s.handleUpdateHighlight)
				r.Delete("/", s.handleDeleteHighlight)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/", s.handleUpdateSettings)
			r.Post("/readwise/validate", s.handleValidateReadwise)
		})

		r.Route("/readwise", func(r chi.Router) {
			r.Get("/status", s.handleReadwiseStatus)
			r.Post("/sync", s.handleSyncAll)
			r.Post("/sync/book/{bookID}", s.handleSyncBook)
			r.Post("/sync/{highlightID}", s.handleSyncHighlight)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requestLogger emits one structured log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// idParam parses a positive integer URL parameter. Returns (0, false) after
// writing a 400 when the value is malformed.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
