// internal/state/meeting.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/notetaker/internal/types"
)

// MeetingStore is a JSON-file-backed meeting record store.
// Each record lives in meetings/<id>/meeting.json. While a record is
// recording_live its segments are appended to meetings/<id>/segments.jsonl
// and merged into the snapshot when the recording is finalized.
type MeetingStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.MeetingID]*sync.Mutex
	now   func() time.Time
}

// NewMeetingStore creates a new file-backed MeetingStore rooted at the given directory.
func NewMeetingStore(root string) *MeetingStore {
	return &MeetingStore{
		root:  root,
		locks: make(map[types.MeetingID]*sync.Mutex),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// getLock returns the per-meeting mutex, creating one if it doesn't exist.
func (s *MeetingStore) getLock(id types.MeetingID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *MeetingStore) meetingsDir() string {
	return filepath.Join(s.root, "meetings")
}

func (s *MeetingStore) meetingDir(id types.MeetingID) string {
	return filepath.Join(s.meetingsDir(), string(id))
}

func (s *MeetingStore) recordPath(id types.MeetingID) string {
	return filepath.Join(s.meetingDir(id), "meeting.json")
}

func (s *MeetingStore) tombstonePath() string {
	return filepath.Join(s.meetingsDir(), "deleted.txt")
}

func notFound(id types.MeetingID) error {
	return fmt.Errorf("meeting %s: %w", id, types.ErrNotFound)
}

// load reads the snapshot and, for live records, merges the segment log.
// Caller must hold the meeting lock.
func (s *MeetingStore) load(id types.MeetingID) (*types.Meeting, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("read meeting: %w", err)
	}

	var m types.Meeting
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal meeting %s: %w", id, err)
	}
	if !m.Status.Valid() {
		return nil, fmt.Errorf("meeting %s has unknown status %q", id, m.Status)
	}

	if m.Status == types.StatusRecordingLive {
		segments, err := s.readSegments(id)
		if err != nil {
			return nil, err
		}
		m.Segments = append(m.Segments, segments...)
	}
	m.Normalize()
	return &m, nil
}

// save writes the snapshot atomically. Live records are written without
// their segments since the segment log is authoritative until finalize.
// Caller must hold the meeting lock.
func (s *MeetingStore) save(m *types.Meeting) error {
	snapshot := *m
	if snapshot.Status == types.StatusRecordingLive {
		snapshot.Segments = []types.Segment{}
	}

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meeting: %w", err)
	}

	dir := s.meetingDir(m.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create meeting dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	target := s.recordPath(m.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp meeting: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp meeting: %w", err)
	}

	if snapshot.Status != types.StatusRecordingLive {
		if err := os.Remove(s.segmentsPath(m.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove segment log: %w", err)
		}
	}
	return nil
}

// mutate loads a record under its lock, applies fn and commits the result.
func (s *MeetingStore) mutate(id types.MeetingID, op string, fn func(m *types.Meeting) error) (*types.Meeting, error) {
	if !types.ValidMeetingID(id) {
		return nil, notFound(id)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	m.UpdatedAt = s.now()

	if err := s.save(m); err != nil {
		return nil, &types.PersistenceError{Op: op, Err: err}
	}
	return m, nil
}

// transition moves m to next if the state machine allows it.
func transition(m *types.Meeting, next types.Status) error {
	if !m.Status.CanTransitionTo(next) {
		return fmt.Errorf("meeting %s is %s, cannot move to %s: %w", m.ID, m.Status, next, types.ErrNotEligible)
	}
	m.Status = next
	return nil
}

func (s *MeetingStore) tombstoned(id types.MeetingID) (bool, error) {
	f, err := os.Open(s.tombstonePath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open tombstones: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == string(id) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan tombstones: %w", err)
	}
	return false, nil
}

func (s *MeetingStore) tombstone(id types.MeetingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.meetingsDir(), 0o755); err != nil {
		return fmt.Errorf("create meetings dir: %w", err)
	}
	f, err := os.OpenFile(s.tombstonePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open tombstones: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(string(id) + "\n"); err != nil {
		return fmt.Errorf("write tombstone: %w", err)
	}
	return f.Sync()
}

// Create persists a new record in its path entry status.
func (s *MeetingStore) Create(_ context.Context, id types.MeetingID, title string, status types.Status) (*types.Meeting, error) {
	if !types.ValidMeetingID(id) {
		return nil, fmt.Errorf("invalid meeting id %q", id)
	}
	if status != types.StatusProcessingASR && status != types.StatusRecordingLive {
		return nil, fmt.Errorf("meeting cannot start in %s: %w", status, types.ErrNotEligible)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.recordPath(id)); err == nil {
		return nil, fmt.Errorf("meeting %s: %w", id, types.ErrExists)
	}
	dead, err := s.tombstoned(id)
	if err != nil {
		return nil, err
	}
	if dead {
		return nil, fmt.Errorf("meeting %s was deleted: %w", id, types.ErrExists)
	}

	now := s.now()
	m := &types.Meeting{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    status,
	}
	m.Normalize()

	if err := s.save(m); err != nil {
		return nil, &types.PersistenceError{Op: "create meeting", Err: err}
	}
	return m, nil
}

// Get returns the record with the given id.
func (s *MeetingStore) Get(_ context.Context, id types.MeetingID) (*types.Meeting, error) {
	if !types.ValidMeetingID(id) {
		return nil, notFound(id)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.load(id)
}

// List returns all records, newest first.
func (s *MeetingStore) List(_ context.Context) ([]*types.Meeting, error) {
	entries, err := os.ReadDir(s.meetingsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.Meeting{}, nil
		}
		return nil, fmt.Errorf("read meetings dir: %w", err)
	}

	meetings := make([]*types.Meeting, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := types.MeetingID(entry.Name())

		lock := s.getLock(id)
		lock.Lock()
		m, err := s.load(id)
		lock.Unlock()

		if errors.Is(err, types.ErrNotFound) {
			continue // deleted between ReadDir and load
		}
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}

	sortNewestFirst(meetings)
	return meetings, nil
}

func sortNewestFirst(meetings []*types.Meeting) {
	sort.Slice(meetings, func(i, j int) bool {
		if meetings[i].CreatedAt.Equal(meetings[j].CreatedAt) {
			return meetings[i].ID > meetings[j].ID
		}
		return meetings[i].CreatedAt.After(meetings[j].CreatedAt)
	})
}

// UpdateTitle renames a record. Allowed in any status.
func (s *MeetingStore) UpdateTitle(_ context.Context, id types.MeetingID, title string) error {
	_, err := s.mutate(id, "update title", func(m *types.Meeting) error {
		m.Title = title
		return nil
	})
	return err
}

// UpdateTranscript commits a bulk transcription result and moves the
// record from processing_asr to processing_analysis.
func (s *MeetingStore) UpdateTranscript(_ context.Context, id types.MeetingID, result *types.TranscriptResult) (*types.Meeting, error) {
	return s.mutate(id, "update transcript", func(m *types.Meeting) error {
		if m.Status != types.StatusProcessingASR {
			return fmt.Errorf("meeting %s is %s: %w", id, m.Status, types.ErrNotEligible)
		}
		if err := transition(m, types.StatusProcessingAnalysis); err != nil {
			return err
		}
		m.Transcript = result.Text
		m.Segments = append([]types.Segment{}, result.Segments...)
		m.Languages = append([]string{}, result.Languages...)
		if len(m.Languages) == 0 {
			m.Languages = types.SegmentLanguages(m.Segments)
		}
		return nil
	})
}

// Finalize collapses a live recording into a flat transcript and moves it
// to processing_analysis. Only one concurrent caller can win.
func (s *MeetingStore) Finalize(_ context.Context, id types.MeetingID) (*types.Meeting, error) {
	return s.mutate(id, "finalize meeting", func(m *types.Meeting) error {
		if m.Status != types.StatusRecordingLive {
			return fmt.Errorf("meeting %s is %s: %w", id, m.Status, types.ErrNotEligible)
		}
		if err := transition(m, types.StatusProcessingAnalysis); err != nil {
			return err
		}
		m.Transcript = types.JoinSegments(m.Segments)
		m.Languages = types.SegmentLanguages(m.Segments)
		return nil
	})
}

// UpdateAnalysis stores the analysis output and completes the record.
func (s *MeetingStore) UpdateAnalysis(_ context.Context, id types.MeetingID, analysis *types.Analysis) (*types.Meeting, error) {
	return s.mutate(id, "update analysis", func(m *types.Meeting) error {
		if err := transition(m, types.StatusCompleted); err != nil {
			return err
		}
		m.Summary = analysis.Summary
		m.ActionItems = append([]string{}, analysis.ActionItems...)
		m.Decisions = append([]string{}, analysis.Decisions...)
		return nil
	})
}

// Fail moves a non-terminal record to failed and stores reason as its summary.
func (s *MeetingStore) Fail(_ context.Context, id types.MeetingID, reason string) (*types.Meeting, error) {
	return s.mutate(id, "fail meeting", func(m *types.Meeting) error {
		if err := transition(m, types.StatusFailed); err != nil {
			return err
		}
		m.Summary = reason
		m.ActionItems = []string{}
		m.Decisions = []string{}
		return nil
	})
}

// SetStatus applies a guarded status transition without touching content.
func (s *MeetingStore) SetStatus(_ context.Context, id types.MeetingID, status types.Status) (*types.Meeting, error) {
	return s.mutate(id, "set status", func(m *types.Meeting) error {
		return transition(m, status)
	})
}

// SetReportPath records where the last rendered report was written.
func (s *MeetingStore) SetReportPath(_ context.Context, id types.MeetingID, path string) error {
	_, err := s.mutate(id, "set report path", func(m *types.Meeting) error {
		m.ReportPath = path
		return nil
	})
	return err
}

// Delete removes a record and tombstones its id. It returns the number of
// records removed.
func (s *MeetingStore) Delete(_ context.Context, id types.MeetingID) (int, error) {
	if !types.ValidMeetingID(id) {
		return 0, nil
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.recordPath(id)); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat meeting: %w", err)
	}

	if err := s.tombstone(id); err != nil {
		return 0, &types.PersistenceError{Op: "delete meeting", Err: err}
	}
	if err := os.RemoveAll(s.meetingDir(id)); err != nil {
		return 0, &types.PersistenceError{Op: "delete meeting", Err: err}
	}
	s.dropLock(id)
	return 1, nil
}

// dropLock forgets the mutex of a deleted record. Goroutines already
// holding it only ever observe the record as gone.
func (s *MeetingStore) dropLock(id types.MeetingID) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// Search returns records whose transcript, segments, title or summary
// contain query, compared case-insensitively. Newest first.
func (s *MeetingStore) Search(ctx context.Context, query string) ([]*types.Meeting, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	matches := make([]*types.Meeting, 0)
	for _, m := range all {
		if matchesQuery(m, needle) {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func matchesQuery(m *types.Meeting, needle string) bool {
	if needle == "" {
		return true
	}
	for _, field := range []string{m.Transcript, m.Title, m.Summary} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, seg := range m.Segments {
		if strings.Contains(strings.ToLower(seg.Text), needle) {
			return true
		}
	}
	return false
}
