// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/notetaker/internal/state"
	"github.com/user/notetaker/internal/types"
)

type fakeExpirer struct {
	store *state.MeetingStore
	mu    sync.Mutex
	calls map[types.MeetingID]string
}

func newFakeExpirer(store *state.MeetingStore) *fakeExpirer {
	return &fakeExpirer{store: store, calls: make(map[types.MeetingID]string)}
}

func (f *fakeExpirer) Expire(ctx context.Context, id types.MeetingID, reason string) {
	f.mu.Lock()
	f.calls[id] = reason
	f.mu.Unlock()
	f.store.Fail(ctx, id, reason)
}

func (f *fakeExpirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func create(t *testing.T, store *state.MeetingStore, status types.Status) types.MeetingID {
	t.Helper()
	id := types.NewMeetingID()
	if _, err := store.Create(context.Background(), id, "m", status); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSweepExpiresStaleRecords(t *testing.T) {
	dir := t.TempDir()
	store := state.NewMeetingStore(dir)
	asr := create(t, store, types.StatusProcessingASR)
	live := create(t, store, types.StatusRecordingLive)
	done := create(t, store, types.StatusProcessingASR)
	if _, err := store.Fail(context.Background(), done, "ASR Error: boom"); err != nil {
		t.Fatal(err)
	}

	exp := newFakeExpirer(store)
	sched := New(store, exp, nil, Options{StaleAfter: time.Minute, LiveStaleAfter: time.Hour}, nil)
	sched.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }

	res, err := sched.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Expired) != 1 || res.Expired[0] != asr {
		t.Fatalf("expired = %v, want only %s", res.Expired, asr)
	}
	if exp.calls[asr] != "ASR Error: timed out" {
		t.Errorf("reason = %q", exp.calls[asr])
	}

	m, err := store.Get(context.Background(), live)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != types.StatusRecordingLive {
		t.Errorf("live record status = %s, want recording_live", m.Status)
	}

	sched.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	res, err = sched.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Expired) != 1 || res.Expired[0] != live {
		t.Fatalf("expired = %v, want only %s", res.Expired, live)
	}
	m, _ = store.Get(context.Background(), live)
	if m.Status != types.StatusFailed {
		t.Errorf("live record status = %s, want failed", m.Status)
	}
}

func TestSweepRemovesOldChunks(t *testing.T) {
	dir := t.TempDir()
	store := state.NewMeetingStore(dir)
	audio := state.NewAudioStore(dir)
	if err := os.MkdirAll(audio.ChunksDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(audio.ChunksDir(), "old.wav")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	sched := New(store, newFakeExpirer(store), audio, Options{ChunkMaxAge: time.Hour}, nil)
	res, err := sched.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Errorf("chunks removed = %d, want 1", res.Chunks)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old chunk still on disk")
	}
}

func TestSchedulerFiresSweep(t *testing.T) {
	dir := t.TempDir()
	store := state.NewMeetingStore(dir)
	create(t, store, types.StatusProcessingASR)

	exp := newFakeExpirer(store)
	sched := New(store, exp, nil, Options{Schedule: "* * * * * *", StaleAfter: time.Minute}, nil)
	sched.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one sweep
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("sweep did not expire the record within 2.5s")
		case <-ticker.C:
			if exp.count() > 0 {
				return
			}
		}
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	store := state.NewMeetingStore(t.TempDir())
	sched := New(store, newFakeExpirer(store), nil, Options{Schedule: "not a schedule"}, nil)
	if err := sched.Start(context.Background()); err == nil {
		sched.Stop()
		t.Fatal("expected error for invalid schedule")
	}
}
