package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/types"
)

// transcribe runs the ASR collaborator once for an uploaded recording.
// Success moves the record to processing_analysis and chains analysis;
// any ASR failure fails the record. ASR is never retried.
func (p *Pipeline) transcribe(job *Job) error {
	ctx, cancel := context.WithTimeout(job.Ctx, p.opts.ASRTimeout)
	defer cancel()

	result, err := p.asr.Transcribe(ctx, job.AudioPath)
	if err == nil && (result == nil || strings.TrimSpace(result.Text) == "") {
		err = errors.New("transcription returned an empty result")
	}
	if err != nil {
		p.fail(job.Ctx, job.MeetingID, "ASR Error: "+err.Error())
		return &types.CollaboratorError{Op: "transcribe", Err: err}
	}

	m, err := p.store.UpdateTranscript(p.background(job.Ctx), job.MeetingID, result)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrNotEligible) {
			// Deleted or expired while ASR was running.
			p.logger.Info("transcript discarded", "meeting_id", string(job.MeetingID), "error", err)
			return nil
		}
		p.fail(job.Ctx, job.MeetingID, "ASR Error: "+err.Error())
		return fmt.Errorf("store transcript: %w", err)
	}
	p.logger.Info("transcription complete", "meeting_id", string(job.MeetingID), "languages", m.Languages, "segments", len(m.Segments))
	p.broadcast(job.Ctx, hub.MeetingUpdated(m))

	next := NewJob(job.MeetingID, StageAnalyze)
	next.Transcript = m.Transcript
	next.Segments = m.Segments
	return p.dispatch(job.Ctx, next)
}
