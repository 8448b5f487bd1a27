package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/state"
	"github.com/user/notetaker/internal/types"
)

type fakeASR struct {
	mu    sync.Mutex
	calls int
	fn    func(path string) (*types.TranscriptResult, error)
}

func (f *fakeASR) Transcribe(_ context.Context, path string) (*types.TranscriptResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(path)
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	seen  []string
	fn    func(text string) (*types.Analysis, error)
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string) (*types.Analysis, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, text)
	f.mu.Unlock()
	return f.fn(text)
}

func (f *fakeAnalyzer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeIndexer struct {
	mu       sync.Mutex
	upserts  map[types.MeetingID][]types.Segment
	deletes  []types.MeetingID
	ops      []string
	upsertFn func() error
	deleteFn func() error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{upserts: make(map[types.MeetingID][]types.Segment)}
}

func (f *fakeIndexer) Upsert(_ context.Context, id types.MeetingID, segs []types.Segment) error {
	if f.upsertFn != nil {
		if err := f.upsertFn(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts[id] = segs
	f.ops = append(f.ops, "upsert "+string(id))
	return nil
}

func (f *fakeIndexer) Delete(_ context.Context, id types.MeetingID) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	f.ops = append(f.ops, "delete "+string(id))
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn()
	}
	return nil
}

func (f *fakeIndexer) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

type recorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recorder) Broadcast(_ context.Context, ev hub.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// updates returns the meeting_updated snapshots broadcast for id.
func (r *recorder) updates(id types.MeetingID) []*types.Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Meeting
	for _, ev := range r.events {
		if ev.Type != hub.EventMeetingUpdated {
			continue
		}
		if m, ok := ev.Payload.(*types.Meeting); ok && m.ID == id {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) count(t hub.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	p        *Pipeline
	store    *state.MeetingStore
	audio    *state.AudioStore
	asr      *fakeASR
	analyzer *fakeAnalyzer
	indexer  *fakeIndexer
	events   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		store: state.NewMeetingStore(dir),
		audio: state.NewAudioStore(dir),
		asr: &fakeASR{fn: func(string) (*types.TranscriptResult, error) {
			return &types.TranscriptResult{Text: "hello world", Languages: []string{"en"}}, nil
		}},
		analyzer: &fakeAnalyzer{fn: func(string) (*types.Analysis, error) {
			return &types.Analysis{Summary: "A greeting.", ActionItems: []string{"Say hi back"}}, nil
		}},
		indexer: newFakeIndexer(),
		events:  &recorder{},
	}
	h.p = New(Deps{
		Store:       h.store,
		Audio:       h.audio,
		Hub:         h.events,
		Transcriber: h.asr,
		Analyzer:    h.analyzer,
		Indexer:     h.indexer,
	}, Options{
		MaxConcurrent: 4,
		Retry:         &RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
	})
	h.p.Start(context.Background())
	t.Cleanup(h.p.Stop)
	return h
}

// waitTerminal polls until the meeting reaches completed or failed.
func (h *harness) waitTerminal(t *testing.T, id types.MeetingID) *types.Meeting {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if m.Status.Terminal() {
			// Let the terminal broadcast land.
			h.p.Queue.WaitIdle(time.Second)
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("meeting %s did not reach a terminal status", id)
	return nil
}

var errBoom = errors.New("boom")

func audio() *strings.Reader { return strings.NewReader("RIFF....WAVEfmt ") }
