package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/scheduler"
	"github.com/user/notetaker/internal/server"
	"github.com/user/notetaker/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notetaker daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "notetaker.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	observers := hub.New(seconds(cfg.Hub.SendTimeoutSeconds), slog.Default())
	defer observers.Close()

	a, err := newApp(cfg, observers)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Nothing requeues work from a previous process.
	recovered, err := a.pipeline.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover meetings: %w", err)
	}
	if recovered > 0 {
		slog.Warn("failed meetings interrupted by restart", "count", recovered)
	}

	a.pipeline.Start(ctx)
	defer a.pipeline.Stop()

	slog.Info("notetaker started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"asr_model", cfg.ASR.Model,
		"pid_file", pidFile,
	)

	// Janitor
	janitor := scheduler.New(a.store, a.pipeline, a.audio, scheduler.Options{
		Schedule:       cfg.Pipeline.SweepSchedule,
		StaleAfter:     minutes(cfg.Pipeline.StaleAfterMinutes),
		LiveStaleAfter: minutes(cfg.Pipeline.LiveStaleAfterMinutes),
		ChunkMaxAge:    minutes(cfg.Pipeline.ChunkMaxAgeMinutes),
	}, slog.Default())
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer janitor.Stop()

	// Telegram notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		notifier, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, a.store, slog.Default())
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		observers.Register(notifier)
		go notifier.Run(ctx)
		go notifier.Listen(ctx)
		slog.Info("telegram notifier started", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram notifier disabled (no token or chat id)")
	}

	// HTTP API
	if cfg.HTTP.Enabled {
		api := server.NewServer(server.Deps{
			Pipeline:       a.pipeline,
			Store:          a.store,
			Exporter:       a.exporter,
			Asker:          a.chat,
			Observers:      http.HandlerFunc(observers.ServeWS),
			Logger:         slog.Default(),
			MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) << 20,
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidFile)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
