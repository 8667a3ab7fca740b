package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sessionvault/internal/config"
	"sessionvault/internal/embedding"
	"sessionvault/internal/extractor"
	"sessionvault/internal/i18n"
	"sessionvault/internal/logging"
	"sessionvault/internal/metrics"
	"sessionvault/internal/scanner"
	"sessionvault/internal/security"
	"sessionvault/internal/server"
	"sessionvault/internal/storage"
	"sessionvault/internal/vault"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	logCloser   io.Closer
	store       *storage.SQLiteStore
	engine      *scanner.Engine
	runner      *scanner.Runner
	gate        *security.Gate
	search      *embedding.Service
	sources     []scanner.Source
	sourceCount int
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%s", i18n.T("error.config", err.Error()))
	}
	i18n.Init(cfg.Locale)

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("%s", i18n.T("error.config", err.Error()))
	}

	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	if err := os.MkdirAll(cfg.VaultPath, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
	}
	a.store = store
	if n, err := storage.ImportLegacyIndex(ctx, cfg.VaultPath, store); err != nil {
		a.logger.Warn("legacy index import failed", "err", err)
	} else if n > 0 {
		a.logger.Info("imported legacy index", "sessions", n)
	}

	registry := extractor.Builtin(a.logger.With("component", "extractor"))
	sources, err := scanner.SourcesFromConfig(registry, cfg.Sources)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.config", err.Error()))
	}
	a.sources = sources
	a.sourceCount = len(sources)

	opts := []scanner.Option{
		scanner.WithLogger(a.logger),
		scanner.WithDeletionPolicy(cfg.Scan.DeletionPolicy),
	}
	if cfg.Scan.CopyToVault {
		opts = append(opts, scanner.WithArchiver(vault.NewArchiver(cfg.VaultPath, a.logger)))
	}
	known := security.NewKnownPaths()
	a.engine = scanner.NewEngine(store, registry, sources, known, opts...)
	a.runner = scanner.NewRunner(a.engine, time.Duration(cfg.Scan.IntervalMS)*time.Millisecond, a.logger)

	a.gate, err = security.NewGate(cfg.VaultPath, cfg.ExportPath, known,
		security.WithLogger(a.logger.With("component", "gate")),
		security.WithObserver(metrics.ObserveGate))
	if err != nil {
		return err
	}

	var (
		embedder  embedding.Embedder
		tokenizer *embedding.Tokenizer
	)
	if cfg.Embedding.Enabled() {
		embedder = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			TimeoutMS: cfg.Embedding.TimeoutMS,
		})
		tokenizer = embedding.NewTokenizerForModel(cfg.Embedding.Model)
	}
	a.search = embedding.NewService(store, embedder, tokenizer, embedding.Options{
		MaxTokens: cfg.Embedding.MaxTokens,
		BatchSize: cfg.Embedding.BatchSize,
	}, a.logger)
	return nil
}

func (a *app) Close() error {
	var firstErr error
	if a.store != nil {
		firstErr = a.store.Close()
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *app) historyPath() string {
	return filepath.Join(filepath.Dir(a.cfg.Storage.DBPath), "shell.history")
}

// serve runs the background runner, the source watcher and the HTTP API until ctx is done.
func (a *app) serve(ctx context.Context, out io.Writer) error {
	if a.search.Semantic() {
		events, unsubscribe := a.runner.Subscribe()
		defer unsubscribe()
		go func() {
			for range events {
				if _, err := a.search.Index(ctx); err != nil {
					a.logger.Warn("embedding index failed", "err", err)
				}
			}
		}()
	}
	go func() {
		_ = a.runner.Run(ctx)
	}()
	if ms := a.cfg.Scan.WatchDebounceMS; ms > 0 {
		w := scanner.NewWatcher(a.runner, a.sources, time.Duration(ms)*time.Millisecond, a.logger)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("file watcher stopped, relying on interval scans", "err", err)
			}
		}()
	}

	srv := server.New(server.Deps{
		Scans:    a.runner,
		Sessions: a.store,
		Gate:     a.gate,
		Search:   a.search,
		Catalog:  i18n.Global(),
		Logger:   a.logger,
	})
	fmt.Fprintln(out, successStyle.Render(i18n.T("server.listening", a.cfg.Server.Addr)))
	err := srv.ListenAndServe(ctx, a.cfg.Server.Addr)
	fmt.Fprintln(out, mutedStyle.Render(i18n.T("server.stopped")))
	return err
}
