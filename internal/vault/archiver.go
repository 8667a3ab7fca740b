// Package vault copies session files into the managed vault directory.
package vault

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sessionvault/internal/session"
)

// Archiver 增量复制会话文件到 <vault>/<source>/<id><ext>
// Archiver copies new or changed session files to <vault>/<source>/<id><ext>.
type Archiver struct {
	dir    string
	logger *slog.Logger
}

// NewArchiver returns an archiver rooted at dir. A nil logger uses slog.Default.
func NewArchiver(dir string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{dir: dir, logger: logger.With("component", "archiver")}
}

// Dir returns the vault root.
func (a *Archiver) Dir() string {
	return a.dir
}

// Destination is where meta's file lives inside the vault.
func (a *Archiver) Destination(meta session.Metadata) string {
	ext := filepath.Ext(meta.OriginalPath)
	return filepath.Join(a.dir, safeName(meta.Source), safeName(meta.ID)+ext)
}

// Archive copies meta.OriginalPath into the vault when the copy is missing,
// older than the source or of a different size, and returns the vault path.
// copied is false when an up-to-date copy was already there.
// The copy keeps the source modification time.
func (a *Archiver) Archive(meta session.Metadata) (dst string, copied bool, err error) {
	if meta.OriginalPath == "" || meta.ID == "" {
		return "", false, fmt.Errorf("archive: session has no path or id")
	}
	src, err := os.Stat(meta.OriginalPath)
	if err != nil {
		return "", false, fmt.Errorf("archive %s: %w", meta.ID, err)
	}
	dst = a.Destination(meta)
	if cur, err := os.Stat(dst); err == nil {
		if !cur.ModTime().Before(src.ModTime()) && cur.Size() == src.Size() {
			return dst, false, nil
		}
	}
	if err := copyFile(meta.OriginalPath, dst, src); err != nil {
		return "", false, fmt.Errorf("archive %s: %w", meta.ID, err)
	}
	a.logger.Debug("archived session", "id", meta.ID, "dst", dst)
	return dst, true, nil
}

// ArchiveAll archives each session, fills in VaultPath and returns how many
// files were actually copied. Failures are per-file: the session keeps its
// previous VaultPath and the rest continue.
func (a *Archiver) ArchiveAll(metas []session.Metadata) int {
	n := 0
	for i := range metas {
		dst, copied, err := a.Archive(metas[i])
		if err != nil {
			a.logger.Warn("archive failed", "id", metas[i].ID, "err", err)
			continue
		}
		metas[i].VaultPath = dst
		if copied {
			n++
		}
	}
	return n
}

func copyFile(srcPath, dstPath string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmpPath := dstPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dstPath)
}

// safeName keeps ids and source tags from escaping their directory.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	s = r.Replace(s)
	if s == "" || s == "." {
		return "_"
	}
	return s
}
