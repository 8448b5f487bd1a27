// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/user/notetaker/internal/pipeline"
	"github.com/user/notetaker/internal/report"
	"github.com/user/notetaker/internal/types"
)

// Pipeline is the write side of the API.
type Pipeline interface {
	SubmitUpload(ctx context.Context, filename string, r io.Reader) (*types.Meeting, error)
	StartLive(ctx context.Context) (*types.Meeting, error)
	IngestChunk(ctx context.Context, id types.MeetingID, index int, filename string, r io.Reader) (*types.Segment, error)
	FinalizeLive(ctx context.Context, id types.MeetingID) (*types.Meeting, error)
	Rename(ctx context.Context, id types.MeetingID, title string) (*types.Meeting, error)
	Delete(ctx context.Context, id types.MeetingID) error
}

// Deps holds what the server is built from. Asker and Observers may be nil.
type Deps struct {
	Pipeline  Pipeline
	Store     types.MeetingStore
	Exporter  *report.Exporter
	Asker     types.Asker
	Observers http.Handler
	Logger    *slog.Logger
	// MaxUploadBytes caps request bodies on the upload routes.
	MaxUploadBytes int64
}

// Server is the HTTP handler for the meeting API.
type Server struct {
	pipeline  Pipeline
	store     types.MeetingStore
	exporter  *report.Exporter
	asker     types.Asker
	logger    *slog.Logger
	maxUpload int64
	mux       *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 512 << 20
	}
	s := &Server{
		pipeline:  deps.Pipeline,
		store:     deps.Store,
		exporter:  deps.Exporter,
		asker:     deps.Asker,
		logger:    deps.Logger,
		maxUpload: deps.MaxUploadBytes,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /upload/upload-audio", s.handleUpload)
	s.mux.HandleFunc("POST /upload/transcribe-chunk/{id}", s.handleChunk)

	s.mux.HandleFunc("POST /meetings/create-live", s.handleCreateLive)
	s.mux.HandleFunc("POST /meetings/{id}/finalize-live", s.handleFinalize)
	s.mux.HandleFunc("PUT /meetings/{id}/title", s.handleRename)
	s.mux.HandleFunc("DELETE /meetings/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /meetings/{$}", s.handleList)
	s.mux.HandleFunc("GET /meetings/summary/{id}", s.handleSummary)
	s.mux.HandleFunc("GET /meetings/transcript/{id}", s.handleTranscript)
	s.mux.HandleFunc("GET /meetings/search/", s.handleSearch)
	s.mux.HandleFunc("GET /meetings/export/{id}", s.handleExport)

	s.mux.HandleFunc("POST /chat/query", s.handleChat)

	if deps.Observers != nil {
		s.mux.Handle("GET /meetings/ws", deps.Observers)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes. notEligible is
// the code used for ErrNotEligible on this route. Persistence failures
// and anything unrecognized are 500.
func statusFor(err error, notEligible int) int {
	switch {
	case types.IsPersistence(err):
		// Storage failures stay server errors whatever they wrap.
		return http.StatusInternalServerError
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotEligible):
		return notEligible
	case errors.Is(err, types.ErrExists):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrUnsupportedAudio),
		errors.Is(err, pipeline.ErrUnsupportedChunk),
		errors.Is(err, report.ErrUnsupportedFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with the mapped status. Server errors are logged and
// their detail is not echoed to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, notEligible int) {
	code := statusFor(err, notEligible)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, code, "internal server error")
		return
	}
	writeError(w, code, err.Error())
}
