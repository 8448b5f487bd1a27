package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/types"
)

// analyze summarizes and indexes a transcript concurrently. Indexing is
// best-effort; a summarization failure fails the record. Either way the
// record ends terminal and exactly one update is broadcast.
func (p *Pipeline) analyze(job *Job) error {
	var (
		g, gctx  = errgroup.WithContext(job.Ctx)
		analysis *types.Analysis
	)

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(gctx, p.opts.AnalysisTimeout)
		defer cancel()
		a, err := p.analyzer.Analyze(ctx, job.Transcript)
		if err != nil {
			return &types.CollaboratorError{Op: "analyze", Err: err}
		}
		if a == nil {
			return &types.CollaboratorError{Op: "analyze", Err: errors.New("analysis returned no result")}
		}
		analysis = a
		return nil
	})

	// Indexing uses the job context, not gctx, so a summarizer failure
	// does not cancel it.
	g.Go(func() error {
		p.index(job.Ctx, job)
		return nil
	})

	if err := g.Wait(); err != nil {
		p.fail(job.Ctx, job.MeetingID, "Analysis Error: "+collaboratorDetail(err))
		if _, gerr := p.store.Get(p.background(job.Ctx), job.MeetingID); errors.Is(gerr, types.ErrNotFound) {
			p.dropIndex(job.Ctx, job.MeetingID)
		}
		return err
	}

	m, err := p.store.UpdateAnalysis(p.background(job.Ctx), job.MeetingID, analysis)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrNotEligible) {
			p.logger.Info("analysis discarded", "meeting_id", string(job.MeetingID), "error", err)
			if errors.Is(err, types.ErrNotFound) {
				p.dropIndex(job.Ctx, job.MeetingID)
			}
			return nil
		}
		p.fail(job.Ctx, job.MeetingID, "Analysis Error: "+err.Error())
		return fmt.Errorf("store analysis: %w", err)
	}

	p.logger.Info("analysis complete", "meeting_id", string(job.MeetingID), "action_items", len(m.ActionItems), "decisions", len(m.Decisions))
	p.broadcast(job.Ctx, hub.MeetingUpdated(m))
	return nil
}

// index upserts the meeting's segments, retrying transient errors. Errors
// are logged and never propagated.
func (p *Pipeline) index(ctx context.Context, job *Job) {
	if p.indexer == nil {
		return
	}
	segments := job.Segments
	if len(segments) == 0 && job.Transcript != "" {
		segments = []types.Segment{{
			ID:   string(job.MeetingID) + "-full",
			Text: job.Transcript,
		}}
	}
	if len(segments) == 0 {
		p.logger.Info("no segments to index", "meeting_id", string(job.MeetingID))
		return
	}

	err := p.opts.Retry.Execute(ctx, func(ctx context.Context) error {
		ictx, cancel := context.WithTimeout(ctx, p.opts.IndexTimeout)
		defer cancel()
		return p.indexer.Upsert(ictx, job.MeetingID, segments)
	})
	if err != nil {
		p.logger.Warn("indexing failed", "meeting_id", string(job.MeetingID), "error", err)
		return
	}
	p.logger.Debug("indexing complete", "meeting_id", string(job.MeetingID), "segments", len(segments))
}

// dropIndex removes an index written for a record that was deleted while
// indexing ran, since Delete may have cleared the index before the upsert.
func (p *Pipeline) dropIndex(ctx context.Context, id types.MeetingID) {
	if p.indexer == nil {
		return
	}
	if err := p.indexer.Delete(p.background(ctx), id); err != nil {
		p.logger.Warn("orphaned index not removed", "meeting_id", string(id), "error", err)
		return
	}
	p.logger.Info("removed index of deleted meeting", "meeting_id", string(id))
}

func collaboratorDetail(err error) string {
	var ce *types.CollaboratorError
	if errors.As(err, &ce) {
		return ce.Err.Error()
	}
	return err.Error()
}
