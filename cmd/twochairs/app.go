package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/twochairs/internal/config"
	"github.com/ashureev/twochairs/internal/convlog"
	"github.com/ashureev/twochairs/internal/journal"
	"github.com/ashureev/twochairs/internal/store"
	"github.com/ashureev/twochairs/internal/transport"
	"github.com/joho/godotenv"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
	repo    store.ClientRepository
	convlog convlog.Logger
	client  *transport.Client
	journal *journal.Journal
}

func newApp() (*app, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	a := &app{cfg: cfg}
	if err := a.setupLogging(); err != nil {
		return nil, err
	}

	if cfg.PersistSession {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open session store: %w", err)
		}
		a.repo = repo
	} else {
		a.repo = store.NewMemory()
	}
	a.journal = journal.New(a.repo)

	a.convlog, err = convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("start conversation log: %w", err)
	}

	doer := transport.NewDoer(transport.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
	}, cfg.RequestTimeout, transport.WithLogger(a.logger))
	a.client = transport.NewClient(cfg.APIBase, doer)

	a.logger.Info("client started",
		"api_base", cfg.APIBase,
		"persist_session", cfg.PersistSession,
		"max_retries", cfg.MaxRetries,
	)
	return a, nil
}

// setupLogging sends JSON logs to the configured file so the terminal UI stays clean.
func (a *app) setupLogging() error {
	opts := &slog.HandlerOptions{Level: a.cfg.SlogLevel()}
	if a.cfg.LogFile == "" {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
		slog.SetDefault(a.logger)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.LogFile), 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(a.cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.logFile = f
	a.logger = slog.New(slog.NewJSONHandler(f, opts))
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) health(ctx context.Context) error {
	resp, err := a.client.Health(ctx)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.convlog != nil {
		if err := a.convlog.Close(); err != nil {
			a.logger.Warn("failed to close conversation log", "error", err)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn("failed to close session store", "error", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
