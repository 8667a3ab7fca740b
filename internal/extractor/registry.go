package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"sessionvault/internal/session"
)

// Registry 按来源名管理提取器
// Registry maps source names and file extensions to extractors.
type Registry struct {
	bySource map[string]Extractor
	order    []string
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		bySource: make(map[string]Extractor),
		logger:   logger,
	}
}

// Builtin returns a registry holding every built-in extractor.
func Builtin(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for _, e := range []Extractor{
		NewVSCodeCopilot(),
		NewCursor(),
		NewClaudeCode(),
		NewCodex(),
		NewCline(),
		NewGeminiCLI(),
		NewContinueDev(),
		NewAntigravity(),
	} {
		// 内置来源名唯一 / built-in source names are unique
		_ = r.Register(e)
	}
	return r
}

// Register adds e. Registering the same source twice is an error.
func (r *Registry) Register(e Extractor) error {
	name := strings.TrimSpace(e.Source())
	if name == "" {
		return fmt.Errorf("extractor source name is empty")
	}
	if _, ok := r.bySource[name]; ok {
		return fmt.Errorf("extractor %q already registered", name)
	}
	r.bySource[name] = e
	r.order = append(r.order, name)
	return nil
}

// Get returns the extractor registered for source.
func (r *Registry) Get(source string) (Extractor, bool) {
	e, ok := r.bySource[source]
	return e, ok
}

// Sources lists registered source names in registration order.
func (r *Registry) Sources() []string {
	return append([]string(nil), r.order...)
}

// Extractors lists registered extractors in registration order.
func (r *Registry) Extractors() []Extractor {
	out := make([]Extractor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.bySource[name])
	}
	return out
}

// ForExtension lists the sources able to read files with ext (".json", ".jsonl").
func (r *Registry) ForExtension(ext string) []string {
	ext = strings.ToLower(ext)
	var out []string
	for _, name := range r.order {
		for _, e := range r.bySource[name].Extensions() {
			if e == ext {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ExtractQuickMetadata runs e on path. Malformed or unrecognised files
// yield ok=false and never an error, so one bad file cannot fail a scan.
func (r *Registry) ExtractQuickMetadata(e Extractor, path string, c Context) (session.Metadata, bool) {
	if !accepts(e, path) {
		return session.Metadata{}, false
	}
	meta, err := e.Extract(path, c)
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, ErrNotSession) {
			level = slog.LevelWarn
		}
		r.logger.Log(context.Background(), level, "skip session file", "source", e.Source(), "path", path, "err", err)
		return session.Metadata{}, false
	}
	return meta, true
}

func accepts(e Extractor, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range e.Extensions() {
		if ext == want {
			return true
		}
	}
	return false
}
