package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Filter 基于 glob 的 include/exclude 路径过滤
// Filter narrows discovered candidates with glob include/exclude patterns.
// Patterns match the slash-separated absolute path; "**" crosses directories.
type Filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewFilter compiles the patterns. Empty include means "everything".
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range include {
		g, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		if g != nil {
			f.include = append(f.include, g)
		}
	}
	for _, p := range exclude {
		g, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		if g != nil {
			f.exclude = append(f.exclude, g)
		}
	}
	return f, nil
}

func compilePattern(p string) (glob.Glob, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil, nil
	}
	return glob.Compile(filepath.ToSlash(p), '/')
}

// Match reports whether path passes the filter. Excludes win over includes.
func (f *Filter) Match(path string) bool {
	if f == nil {
		return true
	}
	path = filepath.ToSlash(filepath.Clean(path))
	for _, g := range f.exclude {
		if g.Match(path) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Apply keeps the candidates that pass the filter.
func (f *Filter) Apply(cands []Candidate) []Candidate {
	if f == nil || (len(f.include) == 0 && len(f.exclude) == 0) {
		return cands
	}
	out := cands[:0]
	for _, c := range cands {
		if f.Match(c.Path) {
			out = append(out, c)
		}
	}
	return out
}

// isDirOrSymlink reports whether the entry is a directory or a symlink
// resolving to one.
func isDirOrSymlink(entry os.DirEntry, parentDir string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(filepath.Join(parentDir, entry.Name()))
	return err == nil && fi.IsDir()
}

// listFiles returns regular files in dir whose extension is in exts.
func listFiles(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range exts {
			if ext == want {
				out = append(out, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
