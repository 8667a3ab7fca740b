package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watchMaxDepth 覆盖最深的来源布局 sessions/YYYY/MM/DD
	// watchMaxDepth covers the deepest source layout (sessions/YYYY/MM/DD).
	watchMaxDepth = 3
	// watchMaxDirs 限制 inotify watch 数量 / Caps the number of watched directories
	watchMaxDirs = 4096
)

// Watcher 监听来源目录，变化停止 debounce 后触发一次扫描
// Watcher turns file-system events under the source roots into scans. A burst
// of events triggers one cycle once the roots have been quiet for the
// debounce period. Roots that do not exist yet are left to interval scans.
type Watcher struct {
	runner   *Runner
	roots    []string
	debounce time.Duration
	logger   *slog.Logger

	dirs int
}

// NewWatcher watches every root of sources and triggers runner.
func NewWatcher(runner *Runner, sources []Source, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool)
	var roots []string
	for _, s := range sources {
		for _, root := range s.Roots {
			root = filepath.Clean(root)
			if !seen[root] {
				seen[root] = true
				roots = append(roots, root)
			}
		}
	}
	return &Watcher{
		runner:   runner,
		roots:    roots,
		debounce: debounce,
		logger:   logger.With("component", "watcher"),
	}
}

// Run watches until ctx is done. It fails only when no watcher can be created;
// the runner's interval scans keep working either way.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	for _, root := range w.roots {
		w.addTree(fw, root, 0)
	}
	if w.dirs == 0 {
		w.logger.Info("no source roots to watch, relying on interval scans")
	} else {
		w.logger.Debug("watching source roots", "dirs", w.dirs)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// 仅属性变化（杀毒、索引器）不触发 / Attribute-only changes do not count
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addTree(fw, ev.Name, w.depthOf(ev.Name))
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "err", err)
		case <-timer.C:
			w.runner.runOnce(ctx)
		}
	}
}

// addTree watches dir and its subdirectories down to watchMaxDepth.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string, depth int) {
	if depth > watchMaxDepth || w.dirs >= watchMaxDirs {
		return
	}
	if err := fw.Add(dir); err != nil {
		if !os.IsNotExist(err) {
			w.logger.Debug("watch directory failed", "dir", dir, "err", err)
		}
		return
	}
	w.dirs++
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addTree(fw, filepath.Join(dir, e.Name()), depth+1)
		}
	}
}

// depthOf returns how far below its root path lies.
func (w *Watcher) depthOf(path string) int {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if rel == "." {
			return 0
		}
		return strings.Count(rel, string(filepath.Separator)) + 1
	}
	return watchMaxDepth
}
