package security

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"unicode/utf8"
)

// MaxReadBytes 单个文件读取上限 / Ceiling for a single file read (50 MiB)
const MaxReadBytes int64 = 50 << 20

var (
	// ErrNotFound 路径不存在或无法解析 / The path does not exist or cannot be resolved
	ErrNotFound = errors.New("file not found")
	// ErrAccessDenied 路径不在任何可信范围内 / The path is outside every trusted location
	ErrAccessDenied = errors.New("access denied")
	// ErrTooLarge 文件超过读取上限 / The file exceeds MaxReadBytes
	ErrTooLarge = errors.New("file too large")
	// ErrNotText 文件不是 UTF-8 文本 / The file is not valid UTF-8 text
	ErrNotText = errors.New("file is not utf-8 text")
)

// Decision results reported to the observer.
const (
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
	ResultNotFound = "not_found"
	ResultTooLarge = "too_large"
)

// Gate 限制 UI 可读取的文件范围
// Gate bounds which files the UI-facing read operation may open: anything under
// the vault root, anything under the export root (when set), or an exact member
// of the known-paths set maintained by the sync engine.
type Gate struct {
	vault   *Root
	known   *KnownPaths
	maxSize int64
	logger  *slog.Logger
	observe func(result string)

	mu     sync.RWMutex
	export *Root
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithLogger sets the audit logger. Denials are logged at WARN.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver receives the result of every authorization decision.
func WithObserver(fn func(result string)) GateOption {
	return func(g *Gate) { g.observe = fn }
}

// WithMaxSize overrides MaxReadBytes.
func WithMaxSize(n int64) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.maxSize = n
		}
	}
}

// NewGate builds a gate over vaultDir, an optional exportDir and the shared known-paths set.
func NewGate(vaultDir, exportDir string, known *KnownPaths, opts ...GateOption) (*Gate, error) {
	vault, err := NewRoot(vaultDir)
	if err != nil {
		return nil, fmt.Errorf("vault root: %w", err)
	}
	if known == nil {
		known = NewKnownPaths()
	}
	g := &Gate{
		vault:   vault,
		known:   known,
		maxSize: MaxReadBytes,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.SetExportRoot(exportDir); err != nil {
		return nil, err
	}
	return g, nil
}

// SetExportRoot changes the export root. An empty dir clears it.
func (g *Gate) SetExportRoot(dir string) error {
	var root *Root
	if dir != "" {
		r, err := NewRoot(dir)
		if err != nil {
			return fmt.Errorf("export root: %w", err)
		}
		root = r
	}
	g.mu.Lock()
	g.export = root
	g.mu.Unlock()
	return nil
}

func (g *Gate) exportRoot() *Root {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.export
}

// MaxSize returns the read ceiling in bytes.
func (g *Gate) MaxSize() int64 {
	return g.maxSize
}

// Known returns the known-paths set the gate consults.
func (g *Gate) Known() *KnownPaths {
	return g.known
}

// Authorize canonicalizes path and checks it against the trusted locations.
// It returns the canonical path on success. The error never names the
// trusted locations.
func (g *Gate) Authorize(path string) (string, error) {
	canonical, err := Canonicalize(path)
	if err != nil {
		g.record(ResultNotFound)
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := g.authorizeCanonical(path, canonical); err != nil {
		return "", err
	}
	return canonical, nil
}

func (g *Gate) authorizeCanonical(path, canonical string) error {
	if g.allowed(canonical) {
		return nil
	}
	g.logger.Warn("access denied", "path", canonical)
	g.record(ResultDenied)
	return fmt.Errorf("%w: %s", ErrAccessDenied, path)
}

func (g *Gate) allowed(canonical string) bool {
	if g.vault.Contains(canonical) {
		return true
	}
	if g.exportRoot().Contains(canonical) {
		return true
	}
	return g.known.Contains(canonical)
}

// ReadFile returns the content of path as text. Files larger than the
// ceiling fail with ErrTooLarge whether or not they are authorized; every
// other file must pass Authorize before it is opened.
func (g *Gate) ReadFile(path string) (string, error) {
	canonical, err := Canonicalize(path)
	if err != nil {
		g.record(ResultNotFound)
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	info, err := os.Stat(canonical)
	if err != nil || info.IsDir() {
		g.record(ResultNotFound)
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.Size() > g.maxSize {
		g.record(ResultTooLarge)
		return "", fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}
	if err := g.authorizeCanonical(path, canonical); err != nil {
		return "", err
	}

	f, err := os.Open(canonical)
	if err != nil {
		g.record(ResultNotFound)
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	defer f.Close()

	// 文件可能在 Stat 之后增长 / The file may grow after Stat
	data, err := io.ReadAll(io.LimitReader(f, g.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > g.maxSize {
		g.record(ResultTooLarge)
		return "", fmt.Errorf("%w: %s", ErrTooLarge, path)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrNotText, path)
	}
	g.record(ResultAllowed)
	return string(data), nil
}

func (g *Gate) record(result string) {
	if g.observe != nil {
		g.observe(result)
	}
}
