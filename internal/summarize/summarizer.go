// Package summarize turns a transcript into a summary, action items and
// decisions with three LLM prompts.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/user/notetaker/internal/types"
	"github.com/user/notetaker/pkg/llm"
)

// ErrEmptyTranscript is returned when there is nothing to analyze.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Budget trims transcripts to the model's context window.
type Budget interface {
	Count(text string) int
	Fit(text string, overhead int) (string, bool)
}

// Summarizer implements types.Analyzer.
type Summarizer struct {
	provider llm.Provider
	prompts  Prompts
	budget   Budget
	logger   *slog.Logger
}

// New creates a Summarizer. budget may be nil to send transcripts whole.
func New(provider llm.Provider, prompts Prompts, budget Budget, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		provider: provider,
		prompts:  prompts,
		budget:   budget,
		logger:   logger,
	}
}

// Analyze runs the summary, action item and decision prompts concurrently.
// Any failing prompt fails the analysis.
func (s *Summarizer) Analyze(ctx context.Context, transcript string) (*types.Analysis, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}
	transcript = s.fit(transcript)

	var (
		g, gctx   = errgroup.WithContext(ctx)
		summary   string
		actions   []string
		decisions []string
	)
	g.Go(func() error {
		reply, err := s.ask(gctx, "summary", s.prompts.Summary, transcript)
		if err != nil {
			return err
		}
		summary = StripThinking(reply)
		return nil
	})
	g.Go(func() error {
		reply, err := s.ask(gctx, "action_items", s.prompts.ActionItems, transcript)
		if err != nil {
			return err
		}
		actions = ParseBullets(reply)
		return nil
	})
	g.Go(func() error {
		reply, err := s.ask(gctx, "decisions", s.prompts.Decisions, transcript)
		if err != nil {
			return err
		}
		decisions = ParseBullets(reply)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if summary == "" {
		return nil, errors.New("summary prompt returned no text")
	}
	return &types.Analysis{
		Summary:     summary,
		ActionItems: actions,
		Decisions:   decisions,
	}, nil
}

func (s *Summarizer) ask(ctx context.Context, name, tmpl, transcript string) (string, error) {
	prompt, err := render(name, tmpl, PromptData{Transcript: transcript})
	if err != nil {
		return "", err
	}
	reply, err := llm.Ask(ctx, s.provider, "", prompt)
	if err != nil {
		return "", fmt.Errorf("%s prompt: %w", name, err)
	}
	return reply, nil
}

// fit truncates the transcript so the longest prompt stays within budget.
func (s *Summarizer) fit(transcript string) string {
	if s.budget == nil {
		return transcript
	}
	overhead := 0
	for _, p := range []string{s.prompts.Summary, s.prompts.ActionItems, s.prompts.Decisions} {
		if n := s.budget.Count(p); n > overhead {
			overhead = n
		}
	}
	fitted, cut := s.budget.Fit(transcript, overhead)
	if cut {
		s.logger.Warn("transcript truncated to fit context window", "tokens_kept", s.budget.Count(fitted))
	}
	return fitted
}

var _ types.Analyzer = (*Summarizer)(nil)
