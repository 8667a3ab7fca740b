package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionvault/internal/session"
)

func writeSession(t *testing.T, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestArchive_CopiesAndSkipsUnchanged(t *testing.T) {
	vaultDir := t.TempDir()
	a := NewArchiver(vaultDir, nil)
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	src := writeSession(t, `{"kind":0}`, mtime)
	meta := session.Metadata{ID: "s1", Source: "cursor", OriginalPath: src}

	dst, copied, err := a.Archive(meta)
	require.NoError(t, err)
	assert.True(t, copied)
	assert.Equal(t, filepath.Join(vaultDir, "cursor", "s1.jsonl"), dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":0}`, string(data))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))

	// 目标已是最新时不再复制 / An up-to-date copy is left alone
	require.NoError(t, os.WriteFile(dst, []byte(`{"kind":9}`), 0o644))
	require.NoError(t, os.Chtimes(dst, mtime, mtime))
	again, copied, err := a.Archive(meta)
	require.NoError(t, err)
	assert.False(t, copied)
	assert.Equal(t, dst, again)
	data, _ = os.ReadFile(dst)
	assert.Equal(t, `{"kind":9}`, string(data))
}

func TestArchive_RecopiesChangedSize(t *testing.T) {
	a := NewArchiver(t.TempDir(), nil)
	mtime := time.Now().Add(-time.Hour)
	src := writeSession(t, "one", mtime)
	meta := session.Metadata{ID: "s1", Source: "codex", OriginalPath: src}

	dst, _, err := a.Archive(meta)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("one two"), 0o644))
	require.NoError(t, os.Chtimes(src, mtime, mtime))
	_, copied, err := a.Archive(meta)
	require.NoError(t, err)
	assert.True(t, copied)
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "one two", string(data))
}

func TestArchiveAll_PerFileFailures(t *testing.T) {
	a := NewArchiver(t.TempDir(), nil)
	src := writeSession(t, "ok", time.Now())
	metas := []session.Metadata{
		{ID: "gone", Source: "cursor", OriginalPath: filepath.Join(t.TempDir(), "missing.json")},
		{ID: "../up", Source: "cursor", OriginalPath: src},
	}
	assert.Equal(t, 1, a.ArchiveAll(metas))
	assert.Empty(t, metas[0].VaultPath)
	assert.Equal(t, filepath.Join(a.Dir(), "cursor", "__up.jsonl"), metas[1].VaultPath)
}

func TestArchiveAll_CountsOnlyCopies(t *testing.T) {
	a := NewArchiver(t.TempDir(), nil)
	mtime := time.Now().Add(-time.Hour)
	metas := []session.Metadata{
		{ID: "s1", Source: "codex", OriginalPath: writeSession(t, "one", mtime)},
		{ID: "s2", Source: "codex", OriginalPath: writeSession(t, "two", mtime)},
	}
	assert.Equal(t, 2, a.ArchiveAll(metas))

	// 副本已是最新：路径照常填写，但不计数 / Up-to-date copies fill VaultPath but are not counted
	again := []session.Metadata{metas[0], metas[1]}
	again[0].VaultPath, again[1].VaultPath = "", ""
	assert.Equal(t, 0, a.ArchiveAll(again))
	assert.Equal(t, metas[0].VaultPath, again[0].VaultPath)
	assert.Equal(t, metas[1].VaultPath, again[1].VaultPath)

	require.NoError(t, os.WriteFile(metas[1].OriginalPath, []byte("two, longer"), 0o644))
	assert.Equal(t, 1, a.ArchiveAll(again))
}
