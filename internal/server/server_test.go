package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/pipeline"
	"github.com/user/notetaker/internal/report"
	"github.com/user/notetaker/internal/state"
	"github.com/user/notetaker/internal/types"
)

type fakeASR struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeASR) Transcribe(_ context.Context, path string) (*types.TranscriptResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &types.TranscriptResult{Text: "hello world", Languages: []string{"en"}}, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, text string) (*types.Analysis, error) {
	return &types.Analysis{Summary: "Summary of: " + text, ActionItems: []string{"follow up"}}, nil
}

type fakeAsker struct {
	err error
}

func (f fakeAsker) Ask(_ context.Context, id types.MeetingID, q string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "answer to " + q, nil
}

type testEnv struct {
	srv   *Server
	store *state.MeetingStore
	hub   *hub.Hub
	p     *pipeline.Pipeline
}

func setupServer(t *testing.T, asker types.Asker) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store := state.NewMeetingStore(dir)
	h := hub.New(time.Second, nil)
	p := pipeline.New(pipeline.Deps{
		Store:       store,
		Audio:       state.NewAudioStore(dir),
		Hub:         h,
		Transcriber: &fakeASR{},
		Analyzer:    fakeAnalyzer{},
	}, pipeline.Options{MaxConcurrent: 2})
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	srv := NewServer(Deps{
		Pipeline:  p,
		Store:     store,
		Exporter:  report.NewExporter(store, filepath.Join(dir, "reports")),
		Asker:     asker,
		Observers: http.HandlerFunc(h.ServeWS),
	})
	return &testEnv{srv: srv, store: store, hub: h, p: p}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func (e *testEnv) waitStatus(t *testing.T, id types.MeetingID, want types.Status) *types.Meeting {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m, err := e.store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if m.Status == want {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("meeting %s did not reach %s", id, want)
	return nil
}

func multipartBody(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, "RIFF....WAVEfmt ")
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeMeeting(t *testing.T, body io.Reader) *types.Meeting {
	t.Helper()
	var m types.Meeting
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	return &m
}

func TestHealthEndpoint(t *testing.T) {
	env := setupServer(t, nil)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestUploadRunsPipeline(t *testing.T) {
	env := setupServer(t, nil)

	body, ct := multipartBody(t, "standup.mp3", nil)
	req := httptest.NewRequest(http.MethodPost, "/upload/upload-audio", body)
	req.Header.Set("Content-Type", ct)
	w := env.do(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeMeeting(t, w.Body)
	if created.Status != types.StatusProcessingASR || created.Title != "standup.mp3" {
		t.Errorf("unexpected created record: %+v", created)
	}

	m := env.waitStatus(t, created.ID, types.StatusCompleted)
	if m.Transcript != "hello world" {
		t.Errorf("transcript = %q", m.Transcript)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/summary/"+string(created.ID), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", w.Code)
	}
	if got := decodeMeeting(t, w.Body); got.Summary != "Summary of: hello world" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	env := setupServer(t, nil)

	body, ct := multipartBody(t, "notes.txt", nil)
	req := httptest.NewRequest(http.MethodPost, "/upload/upload-audio", body)
	req.Header.Set("Content-Type", ct)
	w := env.do(t, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/", nil))
	var list []*types.Meeting
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected no meetings, got %d", len(list))
	}
}

func TestLiveSessionOverHTTP(t *testing.T) {
	env := setupServer(t, nil)

	w := env.do(t, httptest.NewRequest(http.MethodPost, "/meetings/create-live", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("create-live: expected 201, got %d", w.Code)
	}
	live := decodeMeeting(t, w.Body)
	if live.Status != types.StatusRecordingLive || !strings.HasPrefix(live.Title, "Live Recording ") {
		t.Fatalf("unexpected live record: %+v", live)
	}

	for i := 1; i <= 2; i++ {
		body, ct := multipartBody(t, "chunk.wav", map[string]string{"chunk_index": strconv.Itoa(i)})
		req := httptest.NewRequest(http.MethodPost, "/upload/transcribe-chunk/"+string(live.ID), body)
		req.Header.Set("Content-Type", ct)
		w := env.do(t, req)
		if w.Code != http.StatusOK {
			t.Fatalf("chunk %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var resp chunkResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Segment == nil || resp.Segment.ID != string(types.LiveSegmentID(live.ID, i)) {
			t.Errorf("chunk %d: unexpected segment %+v", i, resp.Segment)
		}
	}

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/meetings/"+string(live.ID)+"/finalize-live", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d", w.Code)
	}

	// A chunk after finalize is rejected.
	body, ct := multipartBody(t, "chunk.wav", map[string]string{"chunk_index": "3"})
	req := httptest.NewRequest(http.MethodPost, "/upload/transcribe-chunk/"+string(live.ID), body)
	req.Header.Set("Content-Type", ct)
	if w := env.do(t, req); w.Code != http.StatusConflict {
		t.Errorf("late chunk: expected 409, got %d", w.Code)
	}

	// Second finalize is ineligible.
	w = env.do(t, httptest.NewRequest(http.MethodPost, "/meetings/"+string(live.ID)+"/finalize-live", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second finalize: expected 404, got %d", w.Code)
	}

	m := env.waitStatus(t, live.ID, types.StatusCompleted)
	if m.Transcript != "hello world hello world" {
		t.Errorf("transcript = %q", m.Transcript)
	}
}

func TestChunkValidation(t *testing.T) {
	env := setupServer(t, nil)

	body, ct := multipartBody(t, "chunk.wav", map[string]string{"chunk_index": "0"})
	req := httptest.NewRequest(http.MethodPost, "/upload/transcribe-chunk/"+string(types.NewMeetingID()), body)
	req.Header.Set("Content-Type", ct)
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("zero index: expected 400, got %d", w.Code)
	}

	body, ct = multipartBody(t, "chunk.wav", map[string]string{"chunk_index": "1"})
	req = httptest.NewRequest(http.MethodPost, "/upload/transcribe-chunk/"+string(types.NewMeetingID()), body)
	req.Header.Set("Content-Type", ct)
	if w := env.do(t, req); w.Code != http.StatusNotFound {
		t.Errorf("unknown meeting: expected 404, got %d", w.Code)
	}
}

func TestRenameDeleteAndSearch(t *testing.T) {
	env := setupServer(t, nil)
	ctx := context.Background()
	m, err := env.p.StartLive(ctx)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPut, "/meetings/"+string(m.ID)+"/title", strings.NewReader(`{"new_title":"Quarterly Review"}`))
	if w := env.do(t, req); w.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/meetings/"+string(m.ID)+"/title", strings.NewReader(`{"new_title":"  "}`))
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("blank rename: expected 400, got %d", w.Code)
	}

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/search/?query=quarterly", nil))
	var found struct {
		Query   string           `json:"query"`
		Results []*types.Meeting `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found.Results) != 1 || found.Results[0].ID != m.ID {
		t.Fatalf("search results = %+v", found.Results)
	}

	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/search/", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("empty search: expected 400, got %d", w.Code)
	}

	if w := env.do(t, httptest.NewRequest(http.MethodDelete, "/meetings/"+string(m.ID), nil)); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodDelete, "/meetings/"+string(m.ID), nil)); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/summary/"+string(m.ID), nil)); w.Code != http.StatusNotFound {
		t.Errorf("summary after delete: expected 404, got %d", w.Code)
	}
}

func TestTranscriptAndExport(t *testing.T) {
	env := setupServer(t, nil)
	m, err := env.p.SubmitUpload(context.Background(), "sync.wav", strings.NewReader("RIFF"))
	if err != nil {
		t.Fatal(err)
	}
	env.waitStatus(t, m.ID, types.StatusCompleted)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/transcript/"+string(m.ID), nil))
	var tr map[string]any
	if err := json.NewDecoder(w.Body).Decode(&tr); err != nil {
		t.Fatal(err)
	}
	if tr["transcript"] != "hello world" {
		t.Errorf("transcript = %v", tr["transcript"])
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/export/"+string(m.ID)+"?format=txt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "meeting_"+string(m.ID)+"_report.txt") {
		t.Errorf("content disposition = %q", w.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(w.Body.String(), "Summary of: hello world") {
		t.Errorf("export body:\n%s", w.Body.String())
	}

	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/meetings/export/"+string(m.ID)+"?format=pdf", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("pdf export: expected 400, got %d", w.Code)
	}
}

func TestChatQuery(t *testing.T) {
	env := setupServer(t, fakeAsker{})
	m, err := env.p.StartLive(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	body := `{"meeting_id":"` + string(m.ID) + `","query":"what was decided?"}`
	w := env.do(t, httptest.NewRequest(http.MethodPost, "/chat/query", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "answer to what was decided?" {
		t.Errorf("answer = %q", resp.Answer)
	}

	body = `{"meeting_id":"` + string(types.NewMeetingID()) + `","query":"anything"}`
	if w := env.do(t, httptest.NewRequest(http.MethodPost, "/chat/query", strings.NewReader(body))); w.Code != http.StatusNotFound {
		t.Errorf("unknown meeting: expected 404, got %d", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodPost, "/chat/query", strings.NewReader(`{}`))); w.Code != http.StatusBadRequest {
		t.Errorf("empty request: expected 400, got %d", w.Code)
	}
}

func TestChatQueryCollaboratorFailure(t *testing.T) {
	env := setupServer(t, fakeAsker{err: &types.CollaboratorError{Op: "answer question", Err: errors.New("status 500")}})
	m, err := env.p.StartLive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	body := `{"meeting_id":"` + string(m.ID) + `","query":"q"}`
	if w := env.do(t, httptest.NewRequest(http.MethodPost, "/chat/query", strings.NewReader(body))); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestChatNotConfigured(t *testing.T) {
	env := setupServer(t, nil)
	w := env.do(t, httptest.NewRequest(http.MethodPost, "/chat/query", strings.NewReader(`{}`)))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	env := setupServer(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/meetings/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Registration happens after the upgrade returns to the client.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	m, err := env.p.StartLive(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type    string        `json:"type"`
		Payload types.Meeting `json:"payload"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "meeting_created" || ev.Payload.ID != m.ID {
		t.Errorf("unexpected event %s for %s", ev.Type, ev.Payload.ID)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrNotEligible, http.StatusConflict},
		{types.ErrExists, http.StatusConflict},
		{pipeline.ErrUnsupportedAudio, http.StatusBadRequest},
		{report.ErrUnsupportedFormat, http.StatusBadRequest},
		{&types.PersistenceError{Op: "write", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{&types.PersistenceError{Op: "delete meeting", Err: fmt.Errorf("tombstone: %w", types.ErrNotFound)}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err, http.StatusConflict); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
