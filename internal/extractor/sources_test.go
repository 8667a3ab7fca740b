package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCline_DiscoverAndExtract(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "tasks")
	history := writeFile(t, filepath.Join(root, "1714557600000", clineHistoryFile),
		`[{"role":"user","content":[{"type":"text","text":"<task>\nRefactor the billing module\n</task>"},{"type":"text","text":"<environment_details>x</environment_details>"}]},{"role":"assistant","content":[]}]`)
	writeFile(t, filepath.Join(root, "1714557600000", clineMetadataFile),
		`{"environment_history":[{"host_name":"Visual Studio Code"},{"host_name":"Cursor"}]}`)
	writeFile(t, filepath.Join(root, "1714557600000", "ui_messages.json"), `[]`)
	// 没有会话历史的目录不是任务 / A directory without history is not a task
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty-task"), 0o755))

	c := NewCline()
	cands, err := c.Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, history, cands[0].Path)
	assert.Equal(t, OriginVSCode, cands[0].Context.IDEOrigin)

	meta, err := c.Extract(cands[0].Path, cands[0].Context)
	require.NoError(t, err)
	assert.Equal(t, "1714557600000", meta.ID)
	assert.Equal(t, SourceCline, meta.Source)
	assert.Equal(t, "Refactor the billing module", meta.Title)
	assert.Equal(t, "Cursor", meta.IDEOrigin, "the latest host in task metadata wins")
	require.NotNil(t, meta.CreatedAt)
	assert.Equal(t, time.UnixMilli(1714557600000).UTC(), *meta.CreatedAt)
	assert.Equal(t, fileSize(history)+fileSize(filepath.Join(root, "1714557600000", clineMetadataFile))+2, meta.FileSize)
}

func TestCline_JetBrainsRootAndStringContent(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".cline", "data", "tasks")
	writeFile(t, filepath.Join(root, "task-a", clineHistoryFile),
		`[{"role":"user","content":"`+strings.Repeat("long prompt ", 10)+`"}]`)

	cands, err := NewCline().Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, OriginJetBrains, cands[0].Context.IDEOrigin)

	meta, err := NewCline().Extract(cands[0].Path, cands[0].Context)
	require.NoError(t, err)
	assert.Equal(t, "task-a", meta.ID)
	assert.Equal(t, OriginJetBrains, meta.IDEOrigin)
	assert.True(t, strings.HasSuffix(meta.Title, "..."))
	assert.NotNil(t, meta.CreatedAt)
}

func TestCline_RejectsNonHistory(t *testing.T) {
	dir := t.TempDir()
	obj := writeFile(t, filepath.Join(dir, "t1", clineHistoryFile), `{"not":"a list"}`)
	_, err := NewCline().Extract(obj, Context{})
	assert.ErrorIs(t, err, ErrNotSession)

	other := writeFile(t, filepath.Join(dir, "t1", "ui_messages.json"), `[]`)
	_, err = NewCline().Extract(other, Context{})
	assert.ErrorIs(t, err, ErrNotSession)

	cands, err := NewCline().Discover(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestGeminiCLI_DiscoverAndExtract(t *testing.T) {
	root := t.TempDir()
	summarised := writeFile(t, filepath.Join(root, "9f86d081", "chats", "session-1.json"),
		`{"sessionId":"g-1","startTime":"2025-03-04T05:06:07Z","summary":"Fix flaky test","messages":[]}`)
	writeFile(t, filepath.Join(root, "9f86d081", "logs.json"), `[]`)
	parts := writeFile(t, filepath.Join(root, "0a1b2c3d", "chats", "session-2.json"),
		`{"messages":[{"type":"gemini","content":"hi"},{"type":"user","content":[{"inlineData":{}},{"text":"Explain the cache layer"}]}]}`)

	g := NewGeminiCLI()
	cands, err := g.Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	byPath := map[string]Candidate{}
	for _, c := range cands {
		byPath[c.Path] = c
	}
	meta, err := g.Extract(summarised, byPath[summarised].Context)
	require.NoError(t, err)
	assert.Equal(t, "g-1", meta.ID)
	assert.Equal(t, SourceGeminiCLI, meta.Source)
	assert.Equal(t, "Fix flaky test", meta.Title)
	assert.Equal(t, "9f86d081", meta.WorkspaceName)
	require.NotNil(t, meta.CreatedAt)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), *meta.CreatedAt)

	meta, err = g.Extract(parts, byPath[parts].Context)
	require.NoError(t, err)
	assert.Equal(t, "session-2", meta.ID, "the file stem stands in for a missing sessionId")
	assert.Equal(t, "Explain the cache layer", meta.Title)
	assert.Nil(t, meta.CreatedAt)

	bad := writeFile(t, filepath.Join(root, "x", "chats", "bad.json"), `[1,2`)
	_, err = g.Extract(bad, Context{})
	assert.ErrorIs(t, err, ErrNotSession)
}

func TestContinueDev_DiscoverAndExtract(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, continueIndexFile), `[{"sessionId":"c-1"}]`)
	path := writeFile(t, filepath.Join(root, "c-1.json"),
		`{"sessionId":"c-1","title":"Add pagination","workspaceDirectory":"file:///home/u/shop-api","history":[{"message":{"role":"user","content":"x"}}]}`)
	empty := writeFile(t, filepath.Join(root, "c-2.json"),
		`{"sessionId":"c-2","title":"New Session","workspaceDirectory":"","history":[]}`)

	c := NewContinueDev()
	cands, err := c.Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	meta, err := c.Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "c-1", meta.ID)
	assert.Equal(t, SourceContinueDev, meta.Source)
	assert.Equal(t, "Add pagination", meta.Title)
	assert.Equal(t, "shop-api", meta.WorkspaceName)
	assert.NotNil(t, meta.CreatedAt)

	_, err = c.Extract(empty, Context{})
	assert.ErrorIs(t, err, ErrNotSession)
}

func TestAntigravity_ConversationsAndArtifacts(t *testing.T) {
	root := t.TempDir()
	conv := writeFile(t, filepath.Join(root, "conversations", "3f2a.pb"), "\x0a\x04data")
	writeFile(t, filepath.Join(root, "conversations", "empty.pb"), "")
	plan := writeFile(t, filepath.Join(root, "brain", "3f2a", "implementation_plan.md"), "# Plan\n")
	writeFile(t, filepath.Join(root, "brain", "3f2a", "implementation_plan.md"+artifactMetaSuffix),
		`{"artifactType":"ARTIFACT_TYPE_IMPLEMENTATION_PLAN","summary":"Plan for the export command","updatedAt":"2025-06-01T08:00:00Z"}`)
	notes := writeFile(t, filepath.Join(root, "brain", "3f2a", "notes.md"), "scratch")
	writeFile(t, filepath.Join(root, "brain", "3f2a", "screenshot.png"), "png")

	a := NewAntigravity()
	cands, err := a.Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 4)

	meta, err := a.Extract(conv, Context{})
	require.NoError(t, err)
	assert.Equal(t, "3f2a", meta.ID)
	assert.Equal(t, antigravityChatTitle, meta.Title)
	assert.NotNil(t, meta.CreatedAt)

	_, err = a.Extract(filepath.Join(root, "conversations", "empty.pb"), Context{})
	assert.ErrorIs(t, err, ErrNotSession)

	meta, err = a.Extract(plan, Context{})
	require.NoError(t, err)
	assert.Equal(t, "3f2a_implementation_plan", meta.ID)
	assert.Equal(t, SourceAntigravity, meta.Source)
	assert.Equal(t, "Plan for the export command", meta.Title)
	require.NotNil(t, meta.CreatedAt)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), *meta.CreatedAt)

	meta, err = a.Extract(notes, Context{})
	require.NoError(t, err)
	assert.Equal(t, "3f2a_notes", meta.ID)
	assert.Equal(t, "notes", meta.Title)
}
