// internal/state/segments.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/notetaker/internal/types"
)

func (s *MeetingStore) segmentsPath(id types.MeetingID) string {
	return filepath.Join(s.meetingDir(id), "segments.jsonl")
}

// readSegments returns the live segment log in append order. Caller must
// hold the meeting lock.
func (s *MeetingStore) readSegments(id types.MeetingID) ([]types.Segment, error) {
	f, err := os.Open(s.segmentsPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open segment log: %w", err)
	}
	defer f.Close()

	var segments []types.Segment
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var seg types.Segment
		if err := json.Unmarshal(line, &seg); err != nil {
			// A torn final line from a crash mid-append is dropped.
			continue
		}
		segments = append(segments, seg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan segment log: %w", err)
	}
	return segments, nil
}

// AppendSegment durably appends one segment to a live record.
func (s *MeetingStore) AppendSegment(_ context.Context, id types.MeetingID, segment types.Segment) error {
	if !types.ValidMeetingID(id) {
		return notFound(id)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return fmt.Errorf("read meeting: %w", err)
	}
	var head struct {
		Status types.Status `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("unmarshal meeting %s: %w", id, err)
	}
	if head.Status != types.StatusRecordingLive {
		return fmt.Errorf("meeting %s is %s: %w", id, head.Status, types.ErrNotEligible)
	}

	line, err := json.Marshal(segment)
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}

	f, err := os.OpenFile(s.segmentsPath(id), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return &types.PersistenceError{Op: "append segment", Err: err}
	}
	defer f.Close()

	// Terminate a torn tail so it cannot swallow this line.
	torn, err := endsMidLine(f)
	if err != nil {
		return &types.PersistenceError{Op: "append segment", Err: err}
	}
	if torn {
		line = append([]byte{'\n'}, line...)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return &types.PersistenceError{Op: "append segment", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &types.PersistenceError{Op: "append segment", Err: err}
	}
	return nil
}

// endsMidLine reports whether f is non-empty and its last byte is not a
// newline.
func endsMidLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}
