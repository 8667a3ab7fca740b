package extractor

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeCode_Extract(t *testing.T) {
	content := strings.Join([]string{
		`{"type":"summary","summary":"x"}`,
		`{"type":"user","isMeta":true,"sessionId":"c-1","timestamp":"2024-05-01T10:00:00Z","message":{"role":"user","content":"<command-name>/clear</command-name>"}}`,
		`{"type":"user","sessionId":"c-1","timestamp":"2024-05-01T10:00:01Z","message":{"role":"user","content":[{"type":"text","text":"Add retries to the uploader"}]}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"ok"}}`,
	}, "\n")
	path := writeFile(t, filepath.Join(t.TempDir(), "-home-u-uploader", "c-1.jsonl"), content)

	meta, err := NewClaudeCode().Extract(path, Context{WorkspaceName: "uploader"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", meta.ID)
	assert.Equal(t, SourceClaudeCode, meta.Source)
	assert.Equal(t, "Add retries to the uploader", meta.Title)
	assert.Equal(t, "uploader", meta.WorkspaceName)
	require.NotNil(t, meta.CreatedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), *meta.CreatedAt)
}

func TestClaudeCode_RejectsTinyOrGarbage(t *testing.T) {
	dir := t.TempDir()
	tiny := writeFile(t, filepath.Join(dir, "tiny.jsonl"), "{}")
	_, err := NewClaudeCode().Extract(tiny, Context{})
	assert.ErrorIs(t, err, ErrNotSession)

	garbage := writeFile(t, filepath.Join(dir, "garbage.jsonl"), "this is not json\nnor is this\n")
	_, err = NewClaudeCode().Extract(garbage, Context{})
	assert.ErrorIs(t, err, ErrNotSession)
}

func TestClaudeCode_Discover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "-Users-bill-webapp", "s1.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "-Users-bill-webapp", "agent-123.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "-Users-bill-webapp", "s1", "subagents", "agent-9.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "stray.jsonl"), "{}")

	cands, err := NewClaudeCode().Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "s1.jsonl", filepath.Base(cands[0].Path))
	assert.Equal(t, "webapp", cands[0].Context.WorkspaceName)
}

func TestCodex_Extract(t *testing.T) {
	content := strings.Join([]string{
		`{"timestamp":"2025-01-02T03:04:05Z","type":"session_meta","payload":{"id":"0199aaaa-bbbb-cccc-dddd-eeeeeeeeeeee","timestamp":"2025-01-02T03:04:05.123Z","cwd":"/home/u/api-server"}}`,
		`{"type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"<environment_context>cwd</environment_context>"}]}}`,
		`{"type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"Fix the flaky integration test"}]}}`,
	}, "\n")
	path := writeFile(t, filepath.Join(t.TempDir(), "2025", "01", "02", "rollout-2025-01-02T03-04-05-0199aaaa-bbbb-cccc-dddd-eeeeeeeeeeee.jsonl"), content)

	meta, err := NewCodex().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "0199aaaa-bbbb-cccc-dddd-eeeeeeeeeeee", meta.ID)
	assert.Equal(t, "Fix the flaky integration test", meta.Title)
	assert.Equal(t, "api-server", meta.WorkspaceName)
	require.NotNil(t, meta.CreatedAt)
	assert.Equal(t, 2025, meta.CreatedAt.Year())
}

func TestCodex_IDFromRolloutName(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "rollout-2025-01-02T03-04-05-11111111-2222-3333-4444-555555555555.jsonl"),
		`{"type":"response_item","payload":{"role":"user","content":[{"type":"input_text","text":"hello there friend"}]}}`)
	meta, err := NewCodex().Extract(path, Context{WorkspaceName: "given"})
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", meta.ID)
	assert.Equal(t, "given", meta.WorkspaceName)
}

func TestCodex_Discover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2025", "01", "02", "rollout-a.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "2025", "01", "03", "rollout-b.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "2025", "01", "03", "notes.md"), "x")

	cands, err := NewCodex().Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "rollout-a.jsonl", filepath.Base(cands[0].Path))
}
