package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/user/notetaker/internal/asr"
	"github.com/user/notetaker/internal/config"
	"github.com/user/notetaker/internal/index"
	"github.com/user/notetaker/internal/pipeline"
	"github.com/user/notetaker/internal/report"
	"github.com/user/notetaker/internal/state"
	"github.com/user/notetaker/internal/summarize"
	"github.com/user/notetaker/internal/tokens"
	"github.com/user/notetaker/pkg/llm"
	"github.com/user/notetaker/pkg/llm/openai"
)

// app holds the collaborators shared by serve and the offline meeting
// commands.
type app struct {
	cfg      *config.Config
	store    *state.MeetingStore
	audio    *state.AudioStore
	index    *index.Store
	chat     *index.Chat
	exporter *report.Exporter
	pipeline *pipeline.Pipeline
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// newApp constructs every collaborator once. broadcaster may be nil for
// commands that run without observers.
func newApp(cfg *config.Config, broadcaster pipeline.Broadcaster) (*app, error) {
	store := state.NewMeetingStore(cfg.DataDir)
	audio := state.NewAudioStore(cfg.DataDir)

	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     seconds(cfg.LLM.TimeoutSeconds),
	})

	prompts, err := summarize.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	var (
		budget   summarize.Budget
		splitter index.Splitter
	)
	if b, err := tokens.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve); err != nil {
		slog.Warn("tokenizer unavailable, transcripts are sent whole", "error", err)
	} else {
		budget = b
		splitter = b
	}

	idx := index.NewStore(cfg.DataDir, splitter, index.Options{
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		TopK:         cfg.Index.TopK,
	})

	transcriber := asr.New(asr.Config{
		BaseURL:  cfg.ASR.BaseURL,
		APIKey:   cfg.ASR.APIKey,
		Model:    cfg.ASR.Model,
		Language: cfg.ASR.Language,
		Timeout:  seconds(cfg.ASR.TimeoutSeconds),
	})

	p := pipeline.New(pipeline.Deps{
		Store:       store,
		Audio:       audio,
		Hub:         broadcaster,
		Transcriber: transcriber,
		Analyzer:    summarize.New(provider, prompts, budget, slog.Default()),
		Indexer:     idx,
	}, pipeline.Options{
		MaxConcurrent:   int64(cfg.MaxConcurrent),
		ASRTimeout:      seconds(cfg.Pipeline.ASRTimeoutSeconds),
		AnalysisTimeout: seconds(cfg.Pipeline.AnalysisTimeoutSeconds),
		IndexTimeout:    seconds(cfg.Pipeline.IndexTimeoutSeconds),
		ChunkSeconds:    cfg.Pipeline.ChunkSeconds,
		Logger:          slog.Default(),
	})

	return &app{
		cfg:      cfg,
		store:    store,
		audio:    audio,
		index:    idx,
		chat:     index.NewChat(idx, provider),
		exporter: report.NewExporter(store, filepath.Join(cfg.DataDir, "reports")),
		pipeline: p,
	}, nil
}
