package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root is a trusted directory. Every file below it may be read.
type Root struct {
	path string
}

// NewRoot resolves dir to an absolute, symlink-free path. A root that does
// not exist yet keeps its absolute form so it can be created later.
func NewRoot(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("root path is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}
	return &Root{path: resolved}, nil
}

func (r *Root) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Contains reports whether canonical lies under the root. canonical must
// already be absolute and symlink-free.
func (r *Root) Contains(canonical string) bool {
	if r == nil {
		return false
	}
	rel, err := filepath.Rel(r.path, canonical)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}

// Canonicalize resolves path to an absolute, symlink-free form. It fails
// when the path does not exist or cannot be resolved.
func Canonicalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
