// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/notetaker/internal/types"
)

// Expirer fails a stuck record and tells observers about it.
type Expirer interface {
	Expire(ctx context.Context, id types.MeetingID, reason string)
}

// ChunkSweeper removes leftover live chunk files older than a cutoff.
type ChunkSweeper interface {
	SweepChunks(cutoff time.Time) (int, error)
}

// Options configures the janitor.
type Options struct {
	// Schedule is a cron expression; a leading seconds field is optional.
	Schedule string
	// StaleAfter bounds how long a record may sit in processing_asr or
	// processing_analysis.
	StaleAfter time.Duration
	// LiveStaleAfter bounds how long a live recording may stay open,
	// measured from its creation.
	LiveStaleAfter time.Duration
	// ChunkMaxAge is the age beyond which chunk files are removed.
	ChunkMaxAge time.Duration
}

func (o *Options) setDefaults() {
	if o.Schedule == "" {
		o.Schedule = "@every 5m"
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
	if o.LiveStaleAfter <= 0 {
		o.LiveStaleAfter = 4 * time.Hour
	}
	if o.ChunkMaxAge <= 0 {
		o.ChunkMaxAge = time.Hour
	}
}

// Scheduler periodically expires records that stopped progressing and
// cleans up orphaned chunk files.
type Scheduler struct {
	store   types.MeetingStore
	expirer Expirer
	chunks  ChunkSweeper
	opts    Options
	cron    *cron.Cron
	now     func() time.Time
	logger  *slog.Logger
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. chunks may be nil.
func New(store types.MeetingStore, expirer Expirer, chunks ChunkSweeper, opts Options, logger *slog.Logger) *Scheduler {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		expirer: expirer,
		chunks:  chunks,
		opts:    opts,
		cron:    cron.New(cron.WithParser(cronParser)),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Start registers the sweep and starts the cron ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.opts.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("janitor sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", s.opts.Schedule, err)
	}
	s.logger.Info("janitor scheduled", "schedule", s.opts.Schedule)
	s.cron.Start()
	return nil
}

// Stop stops the cron ticker and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Result counts what one sweep did.
type Result struct {
	Expired []types.MeetingID
	Chunks  int
}

// Sweep runs one janitor pass immediately.
func (s *Scheduler) Sweep(ctx context.Context) (*Result, error) {
	now := s.now()
	meetings, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}

	res := &Result{}
	for _, m := range meetings {
		reason, stale := s.staleReason(m, now)
		if !stale {
			continue
		}
		s.logger.Warn("expiring stale meeting", "meeting_id", string(m.ID), "status", string(m.Status))
		s.expirer.Expire(ctx, m.ID, reason)
		res.Expired = append(res.Expired, m.ID)
	}

	if s.chunks != nil {
		n, err := s.chunks.SweepChunks(now.Add(-s.opts.ChunkMaxAge))
		if err != nil {
			return res, fmt.Errorf("sweep chunks: %w", err)
		}
		res.Chunks = n
	}

	if len(res.Expired) > 0 || res.Chunks > 0 {
		s.logger.Info("janitor sweep", "expired", len(res.Expired), "chunks_removed", res.Chunks)
	}
	return res, nil
}

// staleReason reports whether m has stopped progressing. Live records
// are measured from creation since segment appends leave updated_at alone.
func (s *Scheduler) staleReason(m *types.Meeting, now time.Time) (string, bool) {
	switch m.Status {
	case types.StatusRecordingLive:
		if now.Sub(m.CreatedAt) > s.opts.LiveStaleAfter {
			return "Live Error: recording abandoned", true
		}
	case types.StatusProcessingASR:
		if now.Sub(m.UpdatedAt) > s.opts.StaleAfter {
			return "ASR Error: timed out", true
		}
	case types.StatusProcessingAnalysis:
		if now.Sub(m.UpdatedAt) > s.opts.StaleAfter {
			return "Analysis Error: timed out", true
		}
	}
	return "", false
}
