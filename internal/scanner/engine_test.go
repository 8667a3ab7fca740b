package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionvault/internal/config"
	"sessionvault/internal/extractor"
	"sessionvault/internal/security"
	"sessionvault/internal/session"
	"sessionvault/internal/storage"
	"sessionvault/internal/vault"
)

// countingExtractor reads "<id>|<title>" files and counts Extract calls.
type countingExtractor struct {
	source string
	calls  atomic.Int64
}

func (c *countingExtractor) Source() string          { return c.source }
func (c *countingExtractor) Kind() extractor.Kind    { return extractor.KindIDE }
func (c *countingExtractor) SupportedIDEs() []string { return nil }
func (c *countingExtractor) Extensions() []string    { return []string{".json"} }
func (c *countingExtractor) DefaultRoots() []string  { return nil }

func (c *countingExtractor) Discover(root string) ([]extractor.Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil
	}
	var out []extractor.Candidate
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, extractor.Candidate{
				Path:    filepath.Join(root, e.Name()),
				Context: extractor.Context{WorkspaceName: "ws"},
			})
		}
	}
	return out, nil
}

func (c *countingExtractor) Extract(path string, ctx extractor.Context) (session.Metadata, error) {
	c.calls.Add(1)
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Metadata{}, extractor.ErrNotSession
	}
	id, title, ok := strings.Cut(string(data), "|")
	if !ok {
		return session.Metadata{}, extractor.ErrNotSession
	}
	return session.Metadata{
		ID:            id,
		Source:        c.source,
		Title:         session.TruncateTitle(title),
		OriginalPath:  path,
		FileSize:      int64(len(data)),
		WorkspaceName: ctx.WorkspaceName,
	}, nil
}

type fixture struct {
	root  string
	ext   *countingExtractor
	store *storage.SQLiteStore
	known *security.KnownPaths
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{
		root:  t.TempDir(),
		ext:   &countingExtractor{source: "cursor"},
		store: store,
		known: security.NewKnownPaths(),
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) engine(store storage.Store, opts ...Option) *Engine {
	reg := extractor.NewRegistry(nil)
	_ = reg.Register(f.ext)
	sources := []Source{{Extractor: f.ext, Roots: []string{f.root}}}
	return NewEngine(store, reg, sources, f.known, opts...)
}

// write creates name with content and a distinct, advancing mtime.
func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, f.clock, f.clock))
	return path
}

func canonical(t *testing.T, path string) string {
	t.Helper()
	c, err := security.Canonicalize(path)
	require.NoError(t, err)
	return c
}

func TestScan_UnchangedRescanSkipsExtraction(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.json", "s1|First")
	f.write(t, "b.json", "s2|Second")
	f.write(t, "c.json", "s3|Third")
	e := f.engine(f.store)

	res, err := e.ScanSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Stats.New)
	assert.Equal(t, int64(3), f.ext.calls.Load())
	assert.Equal(t, 3, f.known.Len())

	mtimes, err := f.store.SessionMtimes(context.Background())
	require.NoError(t, err)
	assert.Len(t, mtimes, 3)

	f.ext.calls.Store(0)
	res, err = e.ScanSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.ext.calls.Load(), "unchanged files must not be extracted")
	assert.Equal(t, 3, res.Stats.Unchanged)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, f.known.Len())

	titles := make([]string, 0, len(res.Sessions))
	for _, s := range res.Sessions {
		titles = append(titles, s.Title)
	}
	assert.ElementsMatch(t, []string{"First", "Second", "Third"}, titles)
}

func TestScan_ChangedFileIsReextracted(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.json", "s1|Old title")
	f.write(t, "b.json", "s2|Other")
	e := f.engine(f.store)
	_, err := e.ScanSessions(context.Background())
	require.NoError(t, err)

	f.ext.calls.Store(0)
	f.write(t, "a.json", "s1|New title")
	res, err := e.ScanSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.ext.calls.Load())
	assert.Equal(t, 1, res.Stats.Changed)
	assert.Equal(t, 1, res.Stats.Unchanged)

	rec, err := f.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "New title", rec.Title)
}

func TestScan_MalformedFileSkipped(t *testing.T) {
	f := newFixture(t)
	f.write(t, "good.json", "s1|Fine")
	bad := f.write(t, "bad.json", "not a session")
	e := f.engine(f.store)

	res, err := e.ScanSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.False(t, f.known.Contains(canonical(t, bad)))
}

func TestScan_DuplicateIDFirstWins(t *testing.T) {
	f := newFixture(t)
	first := f.write(t, "a.json", "dup|From a")
	second := f.write(t, "b.json", "dup|From b")
	e := f.engine(f.store)

	res, err := e.ScanSessions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "From a", res.Sessions[0].Title)
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.True(t, f.known.Contains(canonical(t, first)))
	assert.True(t, f.known.Contains(canonical(t, second)), "a duplicate is still a discovered session file")

	rec, err := f.store.Get(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, canonical(t, first), rec.OriginalPath)
}

func TestScan_UnchangedDuplicateNotReextracted(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.json", "dup|From a")
	second := f.write(t, "b.json", "dup|From b")
	e := f.engine(f.store)
	ctx := context.Background()

	_, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, f.ext.calls.Load())

	f.ext.calls.Store(0)
	res, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.ext.calls.Load(), "neither the winner nor its duplicate is re-read")
	assert.Equal(t, 1, res.Stats.Unchanged)
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.True(t, f.known.Contains(canonical(t, second)))

	aliases, err := f.store.Aliases(ctx)
	require.NoError(t, err)
	require.Contains(t, aliases, canonical(t, second))
	assert.Equal(t, "dup", aliases[canonical(t, second)].ID)

	// 重复文件被修改后重新读取 / Touching the duplicate makes it a candidate again
	f.write(t, "b.json", "dup|From b, edited")
	f.ext.calls.Store(0)
	res, err = e.ScanSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.ext.calls.Load())
	assert.Equal(t, 1, res.Stats.Duplicates)
}

func TestScan_DuplicateTakesOverWhenWinnerRemoved(t *testing.T) {
	f := newFixture(t)
	first := f.write(t, "a.json", "dup|From a")
	second := f.write(t, "b.json", "dup|From b")
	e := f.engine(f.store)
	ctx := context.Background()

	_, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(first))

	res, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "From b", res.Sessions[0].Title)
	assert.Zero(t, res.Stats.Duplicates)

	rec, err := f.store.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, canonical(t, second), rec.OriginalPath)
	aliases, err := f.store.Aliases(ctx)
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestScan_MarksMissingAndRestores(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.json", "s1|Keep")
	gone := f.write(t, "b.json", "s2|Gone")
	ctx := context.Background()

	legacy := storage.Record{Metadata: session.Metadata{ID: "old", Source: storage.LegacySource}, MTime: 1}
	_, err := f.store.UpsertBatch(ctx, []storage.Record{legacy})
	require.NoError(t, err)

	e := f.engine(f.store)
	_, err = e.ScanSessions(ctx)
	require.NoError(t, err)

	content, err := os.ReadFile(gone)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	res, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Missing)
	assert.Equal(t, 1, f.known.Len())

	rec, err := f.store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, rec.Missing)
	rec, err = f.store.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, rec.Missing, "sessions of unscanned sources are left alone")

	listed, err := f.store.ListSessions(ctx, storage.ListOptions{Source: "cursor"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	// 文件恢复后清除标记 / A returning file clears the marker
	require.NoError(t, os.WriteFile(gone, content, 0o644))
	res, err = e.ScanSessions(ctx)
	require.NoError(t, err)
	rec, err = f.store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, rec.Missing)
	assert.Equal(t, 2, res.Total)
}

func TestScan_RetainPolicyLeavesRows(t *testing.T) {
	f := newFixture(t)
	gone := f.write(t, "a.json", "s1|Soon gone")
	e := f.engine(f.store, WithDeletionPolicy(config.DeletionRetain))
	ctx := context.Background()

	_, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))
	res, err := e.ScanSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Missing)

	rec, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, rec.Missing)
	assert.Zero(t, f.known.Len())
}

type failingStore struct {
	*storage.SQLiteStore
}

func (failingStore) UpsertBatch(context.Context, []storage.Record) (storage.BatchResult, error) {
	return storage.BatchResult{}, storage.ErrIO
}

func TestScan_StoreFailureAbortsCycle(t *testing.T) {
	f := newFixture(t)
	first := f.write(t, "a.json", "s1|One")
	ctx := context.Background()

	_, err := f.engine(f.store).ScanSessions(ctx)
	require.NoError(t, err)
	require.True(t, f.known.Contains(canonical(t, first)))

	f.write(t, "b.json", "s2|Two")
	_, err = f.engine(failingStore{f.store}).ScanSessions(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrIO))

	// 上一周期的集合保持不变 / The previous cycle's set survives
	assert.Equal(t, 1, f.known.Len())
	assert.True(t, f.known.Contains(canonical(t, first)))
}

func TestScan_CanceledBeforeCommit(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.json", "s1|One")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine(f.store).ScanSessions(ctx)
	require.ErrorIs(t, err, context.Canceled)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.known.Len())
}

func TestScan_GateAuthorizesAfterScan(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "a.json", "s1|Readable")
	gate, err := security.NewGate(t.TempDir(), "", f.known)
	require.NoError(t, err)

	_, err = gate.ReadFile(path)
	require.ErrorIs(t, err, security.ErrAccessDenied)

	_, err = f.engine(f.store).ScanSessions(context.Background())
	require.NoError(t, err)

	text, err := gate.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s1|Readable", text)
}

func TestScan_ArchiverFillsVaultPath(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.json", "s1|Archived")
	vaultDir := t.TempDir()
	e := f.engine(f.store, WithArchiver(vault.NewArchiver(vaultDir, nil)))

	res, err := e.ScanSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Archived)
	want := filepath.Join(vaultDir, "cursor", "s1.json")
	assert.Equal(t, want, res.Sessions[0].VaultPath)

	rec, err := f.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, want, rec.VaultPath)
	_, err = os.Stat(want)
	assert.NoError(t, err)
}

func TestSourcesFromConfig(t *testing.T) {
	reg := extractor.Builtin(nil)
	disabled := false
	sources, err := SourcesFromConfig(reg, []config.SourceConfig{
		{Name: extractor.SourceCursor, Enabled: &disabled},
		{Name: extractor.SourceCodex, Roots: []string{"/tmp/codex"}, Exclude: []string{"**/archived/**"}},
	})
	require.NoError(t, err)

	names := map[string]Source{}
	for _, s := range sources {
		names[s.Extractor.Source()] = s
	}
	assert.NotContains(t, names, extractor.SourceCursor)
	require.Contains(t, names, extractor.SourceCodex)
	assert.Equal(t, []string{"/tmp/codex"}, names[extractor.SourceCodex].Roots)
	assert.False(t, names[extractor.SourceCodex].Filter.Match("/tmp/codex/archived/x.jsonl"))

	_, err = SourcesFromConfig(reg, []config.SourceConfig{{Name: "nope"}})
	assert.Error(t, err)
}
