// Package scanner runs sync cycles: it discovers session files, extracts
// metadata from new or changed ones, commits them to the store and refreshes
// the known-paths set used by the security gate.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"sessionvault/internal/config"
	"sessionvault/internal/extractor"
	"sessionvault/internal/metrics"
	"sessionvault/internal/security"
	"sessionvault/internal/session"
	"sessionvault/internal/storage"
	"sessionvault/internal/vault"
)

// Source binds one extractor to the roots it scans.
type Source struct {
	Extractor extractor.Extractor
	Roots     []string
	Filter    *extractor.Filter
}

// Stats 单次同步的分类统计 / Per-cycle classification counts
type Stats struct {
	Discovered int   `json:"discovered"`
	New        int   `json:"new"`
	Changed    int   `json:"changed"`
	Unchanged  int   `json:"unchanged"`
	Skipped    int   `json:"skipped"`
	Duplicates int   `json:"duplicates"`
	Archived   int   `json:"archived"`
	Missing    int   `json:"missing"`
	Restored   int   `json:"restored"`
	DurationMS int64 `json:"duration_ms"`
}

// Result 是 scan_sessions 的返回值 / The outcome of one sync cycle
type Result struct {
	Sessions   []session.Summary `json:"sessions"`
	Total      int               `json:"total"`
	Stats      Stats             `json:"stats"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Engine 同步引擎；同一时间只运行一个周期
// Engine runs sync cycles. Cycles are serialized: the store sees one writer.
type Engine struct {
	store    storage.Store
	registry *extractor.Registry
	sources  []Source
	known    *security.KnownPaths
	archiver *vault.Archiver
	policy   string
	logger   *slog.Logger

	mu sync.Mutex
}

// Option customises an Engine.
type Option func(*Engine)

// WithArchiver copies new and changed files into the vault before commit.
func WithArchiver(a *vault.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithDeletionPolicy selects what happens to sessions absent from a cycle.
func WithDeletionPolicy(policy string) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds an engine over store. known is replaced after every
// committed cycle and shared with the security gate.
func NewEngine(store storage.Store, registry *extractor.Registry, sources []Source, known *security.KnownPaths, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		sources:  sources,
		known:    known,
		policy:   config.DeletionMark,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "scanner")
	if e.known == nil {
		e.known = security.NewKnownPaths()
	}
	return e
}

// Known returns the known-paths set the engine maintains.
func (e *Engine) Known() *security.KnownPaths {
	return e.known
}

// candidate is a discovered file ready for classification.
type candidate struct {
	ext       extractor.Extractor
	path      string // canonical
	ctx       extractor.Context
	mtime     int64
	sourceTag string
}

// ScanSessions 执行一次同步周期
// ScanSessions runs one cycle. Canceling ctx stops a cycle that is still
// enumerating; once the batch commit starts the cycle runs to completion.
// A store failure aborts the cycle and leaves the known-paths set untouched.
func (e *Engine) ScanSessions(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.scan(ctx)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		metrics.ObserveScan("ok", elapsed)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.ObserveScan("canceled", elapsed)
	default:
		metrics.ObserveScan("error", elapsed)
		e.logger.Error("scan failed", "err", err)
	}
	if err != nil {
		return Result{}, err
	}
	res.Stats.DurationMS = elapsed.Milliseconds()
	res.FinishedAt = time.Now().UTC()
	return res, nil
}

func (e *Engine) scan(ctx context.Context) (Result, error) {
	var stats Stats

	cands, err := e.enumerate(ctx)
	if err != nil {
		return Result{}, err
	}
	stats.Discovered = len(cands)

	// 每个周期只读取一次索引 / The index is read once per cycle
	index, err := e.store.Index(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load index: %w", err)
	}
	byPath := make(map[string]storage.Record, len(index))
	for _, rec := range index {
		if rec.OriginalPath != "" {
			byPath[rec.OriginalPath] = rec
		}
	}

	aliases, err := e.store.Aliases(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load aliases: %w", err)
	}

	var (
		seen     = make(map[string]bool)
		paths    []string
		sessions []session.Metadata
		pending  []storage.Record
		restore  []string
		dupes    []storage.Alias
	)
	// duplicate 记录 id 已被占用的文件：仍可读，但不作为会话入库
	// duplicate keeps a file whose id another path already holds: it stays
	// readable through the gate and is remembered so it is not re-extracted.
	duplicate := func(c candidate, id string) {
		stats.Duplicates++
		paths = append(paths, c.path)
		dupes = append(dupes, storage.Alias{Path: c.path, Source: c.sourceTag, ID: id, MTime: c.mtime})
	}
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if a, ok := aliases[c.path]; ok && a.MTime == c.mtime && a.Source == c.sourceTag && seen[a.ID] {
			duplicate(c, a.ID)
			continue
		}
		if rec, ok := byPath[c.path]; ok && rec.MTime == c.mtime && rec.Source == c.sourceTag {
			if seen[rec.ID] {
				duplicate(c, rec.ID)
				continue
			}
			stats.Unchanged++
			seen[rec.ID] = true
			paths = append(paths, c.path)
			sessions = append(sessions, rec.Metadata)
			if rec.Missing {
				restore = append(restore, rec.ID)
			}
			continue
		}

		meta, ok := e.registry.ExtractQuickMetadata(c.ext, c.path, c.ctx)
		metrics.ObserveExtraction(c.sourceTag, ok)
		if !ok {
			stats.Skipped++
			continue
		}
		if seen[meta.ID] {
			e.logger.Debug("duplicate session id", "id", meta.ID, "path", c.path)
			duplicate(c, meta.ID)
			continue
		}
		seen[meta.ID] = true
		meta.OriginalPath = c.path
		if prev, ok := index[meta.ID]; ok {
			stats.Changed++
			meta.VaultPath = prev.VaultPath
		} else {
			stats.New++
		}
		paths = append(paths, c.path)
		sessions = append(sessions, meta)
		pending = append(pending, storage.Record{Metadata: meta, MTime: c.mtime})
	}

	var gone []string
	if e.policy == config.DeletionMark {
		scanned := make(map[string]bool, len(e.sources))
		for _, s := range e.sources {
			scanned[s.Extractor.Source()] = true
		}
		for id, rec := range index {
			if !seen[id] && !rec.Missing && scanned[rec.Source] {
				gone = append(gone, id)
			}
		}
		sort.Strings(gone)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if e.archiver != nil && len(pending) > 0 {
		metas := make([]session.Metadata, len(pending))
		for i := range pending {
			metas[i] = pending[i].Metadata
		}
		stats.Archived = e.archiver.ArchiveAll(metas)
		for i := range pending {
			pending[i].VaultPath = metas[i].VaultPath
		}
		vaultPaths := make(map[string]string, len(metas))
		for _, m := range metas {
			vaultPaths[m.ID] = m.VaultPath
		}
		for i := range sessions {
			if vp, ok := vaultPaths[sessions[i].ID]; ok {
				sessions[i].VaultPath = vp
			}
		}
	}

	// 提交阶段不可取消 / The commit phase ignores cancellation
	commitCtx := context.WithoutCancel(ctx)
	if _, err := e.store.UpsertBatch(commitCtx, pending); err != nil {
		return Result{}, fmt.Errorf("commit batch: %w", err)
	}
	if err := e.store.ReplaceAliases(commitCtx, dupes); err != nil {
		return Result{}, fmt.Errorf("commit aliases: %w", err)
	}
	if stats.Restored, err = e.store.MarkMissing(commitCtx, restore, false); err != nil {
		return Result{}, fmt.Errorf("restore sessions: %w", err)
	}
	if stats.Missing, err = e.store.MarkMissing(commitCtx, gone, true); err != nil {
		return Result{}, fmt.Errorf("mark missing: %w", err)
	}
	e.known.Replace(paths)

	details := fmt.Sprintf("discovered=%d new=%d changed=%d unchanged=%d skipped=%d duplicates=%d missing=%d",
		stats.Discovered, stats.New, stats.Changed, stats.Unchanged, stats.Skipped, stats.Duplicates, stats.Missing)
	if err := e.store.LogSync(commitCtx, "scan", details); err != nil {
		e.logger.Warn("write sync log", "err", err)
	}
	metrics.ObserveFiles(stats.New, stats.Changed, stats.Unchanged)
	metrics.SetSessions(len(sessions))
	e.logger.Info("scan finished", "sessions", len(sessions), "new", stats.New,
		"changed", stats.Changed, "unchanged", stats.Unchanged, "skipped", stats.Skipped)

	return buildResult(sessions, stats), nil
}

// enumerate discovers candidate files across every source root. Files that
// cannot be resolved or stat'ed are dropped.
func (e *Engine) enumerate(ctx context.Context) ([]candidate, error) {
	var out []candidate
	visited := make(map[string]bool)
	for _, src := range e.sources {
		for _, root := range src.Roots {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			found, err := src.Extractor.Discover(root)
			if err != nil {
				e.logger.Warn("discover failed", "source", src.Extractor.Source(), "root", root, "err", err)
				continue
			}
			for _, c := range src.Filter.Apply(found) {
				canonical, err := security.Canonicalize(c.Path)
				if err != nil {
					continue
				}
				key := src.Extractor.Source() + "\x00" + canonical
				if visited[key] {
					continue
				}
				visited[key] = true
				info, err := os.Stat(canonical)
				if err != nil || info.IsDir() {
					continue
				}
				out = append(out, candidate{
					ext:       src.Extractor,
					path:      canonical,
					ctx:       c.Context,
					mtime:     info.ModTime().UnixMilli(),
					sourceTag: src.Extractor.Source(),
				})
			}
		}
	}
	return out, nil
}

func buildResult(sessions []session.Metadata, stats Stats) Result {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].CreatedAt, sessions[j].CreatedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return sessions[i].ID < sessions[j].ID
	})
	summaries := make([]session.Summary, 0, len(sessions))
	for _, m := range sessions {
		summaries = append(summaries, m.Summarize())
	}
	return Result{Sessions: summaries, Total: len(summaries), Stats: stats}
}
