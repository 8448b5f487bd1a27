package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/notetaker/internal/report"
	"github.com/user/notetaker/internal/types"
)

// multipartMemory is how much of a multipart body is held in memory
// before spilling to temp files.
const multipartMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	m, err := s.pipeline.SubmitUpload(r.Context(), header.Filename, file)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type chunkResponse struct {
	Message         string         `json:"message"`
	TranscriptChunk *string        `json:"transcript_chunk"`
	Segment         *types.Segment `json:"segment"`
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	id := types.MeetingID(r.PathValue("id"))

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil || index < 1 {
		writeError(w, http.StatusBadRequest, "chunk_index must be a positive integer")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	seg, err := s.pipeline.IngestChunk(r.Context(), id, index, header.Filename, file)
	if err != nil {
		s.fail(w, r, err, http.StatusConflict)
		return
	}

	resp := chunkResponse{Message: "Chunk processed.", Segment: seg}
	if seg != nil {
		resp.TranscriptChunk = &seg.Text
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateLive(w http.ResponseWriter, r *http.Request) {
	m, err := s.pipeline.StartLive(r.Context())
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := types.MeetingID(r.PathValue("id"))
	if _, err := s.pipeline.FinalizeLive(r.Context(), id); err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Live meeting " + string(id) + " finalized successfully."})
}

type renameRequest struct {
	NewTitle string `json:"new_title"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.NewTitle) == "" {
		writeError(w, http.StatusBadRequest, "new_title is required")
		return
	}

	id := types.MeetingID(r.PathValue("id"))
	if _, err := s.pipeline.Rename(r.Context(), id, req.NewTitle); err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Meeting title updated successfully."})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := types.MeetingID(r.PathValue("id"))
	if err := s.pipeline.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Meeting " + string(id) + " deleted successfully."})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	meetings, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	if meetings == nil {
		meetings = []*types.Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Get(r.Context(), types.MeetingID(r.PathValue("id")))
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := types.MeetingID(r.PathValue("id"))
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"transcript": m.FullText(),
		"segments":   m.Segments,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := s.store.Search(r.Context(), query)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	if results == nil {
		results = []*types.Meeting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	doc, err := s.exporter.Export(r.Context(), types.MeetingID(r.PathValue("id")), format)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.Write(doc.Body)
}

type chatRequest struct {
	MeetingID string `json:"meeting_id"`
	Query     string `json:"query"`
}

type chatResponse struct {
	MeetingID string `json:"meeting_id"`
	Query     string `json:"query"`
	Answer    string `json:"answer"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.asker == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MeetingID == "" || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "meeting_id and query are required")
		return
	}

	id := types.MeetingID(req.MeetingID)
	if _, err := s.store.Get(r.Context(), id); err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	answer, err := s.asker.Ask(r.Context(), id, req.Query)
	if err != nil {
		var cerr *types.CollaboratorError
		if errors.As(err, &cerr) {
			s.logger.Error("chat query failed", "meeting_id", req.MeetingID, "error", err)
			writeError(w, http.StatusBadGateway, "failed to process chat query")
			return
		}
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{MeetingID: req.MeetingID, Query: req.Query, Answer: answer})
}
