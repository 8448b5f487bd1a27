package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/types"
)

// ErrUnsupportedChunk is returned for live chunks that are not WAV.
var ErrUnsupportedChunk = errors.New("unsupported chunk format")

const (
	liveSpeakerID   = "live_system"
	liveSpeakerName = "System Audio"
)

// LiveTitle is the generated title of a live recording started at t.
func LiveTitle(t time.Time) string {
	return "Live Recording " + t.UTC().Format("2006-01-02 15:04")
}

// StartLive creates a record in recording_live and broadcasts it.
func (p *Pipeline) StartLive(ctx context.Context) (*types.Meeting, error) {
	id := types.NewMeetingID()
	m, err := p.store.Create(ctx, id, LiveTitle(time.Now()), types.StatusRecordingLive)
	if err != nil {
		return nil, fmt.Errorf("create live meeting: %w", err)
	}
	p.logger.Info("live recording started", "meeting_id", string(id))
	p.broadcast(ctx, hub.MeetingCreated(m))
	return m, nil
}

// IngestChunk transcribes one live chunk and appends the resulting
// segment. A chunk that fails to transcribe or yields no text returns a
// nil segment and no error. ErrNotFound and ErrNotEligible report an
// unknown or no longer live meeting.
func (p *Pipeline) IngestChunk(ctx context.Context, id types.MeetingID, index int, filename string, r io.Reader) (*types.Segment, error) {
	if index < 1 {
		return nil, fmt.Errorf("chunk index must be positive, got %d", index)
	}
	if filename != "" && !strings.EqualFold(filepath.Ext(filename), ChunkExtension) {
		return nil, fmt.Errorf("%q: %w", filename, ErrUnsupportedChunk)
	}

	m, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != types.StatusRecordingLive {
		return nil, fmt.Errorf("meeting %s is %s: %w", id, m.Status, types.ErrNotEligible)
	}

	path, err := p.audio.PutChunk(id, index, ChunkExtension, r)
	if err != nil {
		return nil, &types.PersistenceError{Op: "store chunk", Err: err}
	}
	defer func() {
		if err := p.audio.RemoveChunk(path); err != nil {
			p.logger.Warn("remove chunk", "path", path, "error", err)
		}
	}()

	actx, cancel := context.WithTimeout(ctx, p.opts.ASRTimeout)
	defer cancel()
	result, err := p.asr.Transcribe(actx, path)
	if err != nil {
		p.logger.Warn("chunk transcription failed", "meeting_id", string(id), "chunk", index, "error", err)
		return nil, nil
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		p.logger.Debug("chunk produced no text", "meeting_id", string(id), "chunk", index)
		return nil, nil
	}

	language := "unknown"
	if len(result.Languages) > 0 && result.Languages[0] != "" {
		language = result.Languages[0]
	}
	seg := types.Segment{
		ID:          types.LiveSegmentID(id, index),
		SpeakerID:   liveSpeakerID,
		SpeakerName: liveSpeakerName,
		Start:       float64(index-1) * p.opts.ChunkSeconds,
		End:         float64(index) * p.opts.ChunkSeconds,
		Text:        strings.TrimSpace(result.Text),
		Language:    language,
	}

	if err := p.store.AppendSegment(p.background(ctx), id, seg); err != nil {
		return nil, err
	}
	p.broadcast(ctx, hub.TranscriptUpdate(id, seg))
	return &seg, nil
}

// FinalizeLive closes a live recording and dispatches analysis. Only the
// caller that wins the store's status check proceeds; others get
// ErrNotEligible.
func (p *Pipeline) FinalizeLive(ctx context.Context, id types.MeetingID) (*types.Meeting, error) {
	m, err := p.store.Finalize(ctx, id)
	if err != nil {
		return nil, err
	}
	p.logger.Info("live recording finalized", "meeting_id", string(id), "segments", len(m.Segments))
	p.broadcast(ctx, hub.MeetingUpdated(m))

	job := NewJob(id, StageAnalyze)
	job.Transcript = m.Transcript
	job.Segments = m.Segments
	if err := p.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return m, nil
}
