// Package pipeline drives meeting records through transcription and
// analysis and keeps observers informed of every transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/state"
	"github.com/user/notetaker/internal/types"
)

// ErrUnsupportedAudio is returned for uploads with an unknown extension.
var ErrUnsupportedAudio = errors.New("unsupported audio format")

// UploadExtensions lists the accepted recording formats.
var UploadExtensions = []string{".wav", ".mp3", ".m4a"}

// ChunkExtension is the only accepted live chunk format.
const ChunkExtension = ".wav"

// Broadcaster publishes events to observers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event hub.Event) error
}

// Deps holds the collaborators a Pipeline is constructed with. Indexer may
// be nil, in which case indexing is skipped.
type Deps struct {
	Store       types.MeetingStore
	Audio       *state.AudioStore
	Hub         Broadcaster
	Transcriber types.Transcriber
	Analyzer    types.Analyzer
	Indexer     types.Indexer
}

// Options tunes timeouts and concurrency.
type Options struct {
	MaxConcurrent   int64
	ASRTimeout      time.Duration
	AnalysisTimeout time.Duration
	IndexTimeout    time.Duration
	ChunkSeconds    float64
	Retry           *RetryPolicy
	Logger          *slog.Logger
}

func (o *Options) setDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.ASRTimeout <= 0 {
		o.ASRTimeout = 10 * time.Minute
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 5 * time.Minute
	}
	if o.IndexTimeout <= 0 {
		o.IndexTimeout = 2 * time.Minute
	}
	if o.ChunkSeconds <= 0 {
		o.ChunkSeconds = 5
	}
	if o.Retry == nil {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Pipeline orchestrates stages over a Queue. Stages hand off to each
// other only by enqueueing the next Job.
type Pipeline struct {
	store    types.MeetingStore
	audio    *state.AudioStore
	hub      Broadcaster
	asr      types.Transcriber
	analyzer types.Analyzer
	indexer  types.Indexer

	Queue  *Queue
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Pipeline wired to deps.
func New(deps Deps, opts Options) *Pipeline {
	opts.setDefaults()
	p := &Pipeline{
		store:    deps.Store,
		audio:    deps.Audio,
		hub:      deps.Hub,
		asr:      deps.Transcriber,
		analyzer: deps.Analyzer,
		indexer:  deps.Indexer,
		Queue:    NewQueue(opts.MaxConcurrent),
		opts:     opts,
		logger:   opts.Logger,
	}
	p.Queue.SetProcessor(p.process)
	return p
}

// Start initialises the pipeline's context and starts the queue.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.Queue.Start(p.ctx)
}

// Stop cancels in-flight stages and waits for their goroutines to exit.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Queue.Stop()
}

// background returns a context for store writes and broadcasts that must
// outlive a cancelled stage.
func (p *Pipeline) background(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

func (p *Pipeline) broadcast(ctx context.Context, event hub.Event) {
	if p.hub == nil {
		return
	}
	if err := p.hub.Broadcast(p.background(ctx), event); err != nil {
		p.logger.Warn("broadcast failed", "event", event.Type, "error", err)
	}
}

// fail writes a terminal failed status and broadcasts it. Records that
// are gone or already terminal are left alone.
func (p *Pipeline) fail(ctx context.Context, id types.MeetingID, reason string) {
	ctx = p.background(ctx)
	m, err := p.store.Fail(ctx, id, reason)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrNotEligible) {
			p.logger.Info("skipping failure write", "meeting_id", string(id), "reason", reason, "error", err)
			return
		}
		p.logger.Error("failure write did not commit", "meeting_id", string(id), "reason", reason, "error", err)
		return
	}
	p.logger.Warn("meeting failed", "meeting_id", string(id), "reason", reason)
	p.broadcast(ctx, hub.MeetingUpdated(m))
}

// process runs one Job. Panics inside a stage are converted into a
// failure write so the record still reaches a terminal status.
func (p *Pipeline) process(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", job.Stage, r)
			p.fail(job.Ctx, job.MeetingID, failurePrefix(job.Stage)+err.Error())
		}
	}()

	logger := p.logger.With("meeting_id", string(job.MeetingID), "stage", string(job.Stage), "job_id", string(job.ID))
	start := time.Now()
	logger.Debug("stage started")

	switch job.Stage {
	case StageTranscribe:
		err = p.transcribe(job)
	case StageAnalyze:
		err = p.analyze(job)
	default:
		err = fmt.Errorf("unknown stage %q", job.Stage)
		p.fail(job.Ctx, job.MeetingID, "Pipeline Error: "+err.Error())
	}

	logger.Debug("stage finished", "duration", time.Since(start), "error", err)
	return err
}

func failurePrefix(stage Stage) string {
	if stage == StageTranscribe {
		return "ASR Error: "
	}
	return "Analysis Error: "
}

// dispatch enqueues the next stage. If the hand-off cannot be made the
// record is failed so it does not stay in a non-terminal status.
func (p *Pipeline) dispatch(ctx context.Context, job *Job) error {
	if err := p.Queue.Enqueue(job); err != nil {
		p.fail(ctx, job.MeetingID, fmt.Sprintf("%sdispatch failed: %v", failurePrefix(job.Stage), err))
		return fmt.Errorf("dispatch %s: %w", job.Stage, err)
	}
	return nil
}

// AllowedUpload reports whether filename has an accepted recording extension.
func AllowedUpload(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range UploadExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// SubmitUpload stores a recording, creates its record in processing_asr,
// broadcasts the creation and dispatches transcription. It returns as soon
// as the record is durable.
func (p *Pipeline) SubmitUpload(ctx context.Context, filename string, r io.Reader) (*types.Meeting, error) {
	if !AllowedUpload(filename) {
		return nil, fmt.Errorf("%q: %w", filename, ErrUnsupportedAudio)
	}
	title := filepath.Base(filename)
	id := types.NewMeetingID()

	path, err := p.audio.PutUpload(id, filepath.Ext(filename), r)
	if err != nil {
		return nil, &types.PersistenceError{Op: "store upload", Err: err}
	}

	m, err := p.store.Create(ctx, id, title, types.StatusProcessingASR)
	if err != nil {
		if rerr := p.audio.RemoveUpload(id); rerr != nil {
			p.logger.Warn("remove orphaned upload", "meeting_id", string(id), "error", rerr)
		}
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	p.logger.Info("upload accepted", "meeting_id", string(id), "title", title)
	p.broadcast(ctx, hub.MeetingCreated(m))

	job := NewJob(id, StageTranscribe)
	job.AudioPath = path
	if err := p.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return m, nil
}

// Rename changes a meeting's title and broadcasts the new snapshot.
func (p *Pipeline) Rename(ctx context.Context, id types.MeetingID, title string) (*types.Meeting, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	if err := p.store.UpdateTitle(ctx, id, title); err != nil {
		return nil, err
	}
	m, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.broadcast(ctx, hub.MeetingUpdated(m))
	return m, nil
}

// Delete removes a meeting and its upload, drops its index best-effort
// and broadcasts the deletion. Returns ErrNotFound if nothing was removed.
func (p *Pipeline) Delete(ctx context.Context, id types.MeetingID) error {
	n, err := p.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("meeting %s: %w", id, types.ErrNotFound)
	}

	if err := p.audio.RemoveUpload(id); err != nil {
		p.logger.Warn("remove upload", "meeting_id", string(id), "error", err)
	}
	if p.indexer != nil {
		if err := p.indexer.Delete(ctx, id); err != nil {
			p.logger.Warn("index delete failed", "meeting_id", string(id), "error", err)
		}
	}

	p.logger.Info("meeting deleted", "meeting_id", string(id))
	p.broadcast(ctx, hub.MeetingDeleted(id))
	return nil
}

// Recover fails records a previous process left mid-pipeline. Jobs are
// not persisted, so nothing would ever move them forward.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	meetings, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list meetings: %w", err)
	}

	recovered := 0
	for _, m := range meetings {
		var reason string
		switch m.Status {
		case types.StatusProcessingASR:
			reason = "ASR Error: interrupted by restart"
		case types.StatusProcessingAnalysis:
			reason = "Analysis Error: interrupted by restart"
		default:
			continue
		}
		p.fail(ctx, m.ID, reason)
		recovered++
	}
	return recovered, nil
}

// Expire fails a non-terminal record that has been idle too long.
func (p *Pipeline) Expire(ctx context.Context, id types.MeetingID, reason string) {
	p.fail(ctx, id, reason)
}
