package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChatSession_DocumentHeaderFields(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "x.json"),
		`{"version":3,"sessionId":"s1","creationDate":1700000000000,"customTitle":"Hello","requests":[]}`)

	meta, err := NewVSCodeCopilot().Extract(path, Context{WorkspaceName: "proj", IDEOrigin: OriginVSCode})
	require.NoError(t, err)
	assert.Equal(t, "s1", meta.ID)
	assert.Equal(t, "Hello", meta.Title)
	assert.Equal(t, SourceVSCodeCopilot, meta.Source)
	assert.Equal(t, "proj", meta.WorkspaceName)
	assert.Equal(t, OriginVSCode, meta.IDEOrigin)
	require.NotNil(t, meta.CreatedAt)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), *meta.CreatedAt)
	assert.Equal(t, path, meta.OriginalPath)
	assert.Positive(t, meta.FileSize)
}

func TestChatSession_DocumentFirstRequestTitleTruncated(t *testing.T) {
	long := strings.Repeat("a", 80)
	doc := fmt.Sprintf(`{
		"sessionId": "s2",
		"requests": [
			{"message": {"text": %q, "parts": [{"kind": "text"}]}, "response": [{"value": "big"}]},
			{"message": {"text": "second"}, "response": [[1, 2, {"deep": [3]}]]}
		],
		"creationDate": 1700000000000
	}`, long)
	path := writeFile(t, filepath.Join(t.TempDir(), "s2.json"), doc)

	meta, err := NewCursor().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 60)+"...", meta.Title)
	assert.Equal(t, 63, len([]rune(meta.Title)))
	assert.NotNil(t, meta.CreatedAt, "fields after requests must still be read")
	assert.Equal(t, SourceCursor, meta.Source)
}

func TestChatSession_CustomTitleWinsOverRequests(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "c.json"),
		`{"requests":[{"message":{"text":"first question here"}}],"customTitle":"Named","sessionId":"c1"}`)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Named", meta.Title)
}

func TestChatSession_DocumentDefaults(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "abc-123.json"), `{"requests": null, "creationDate": "soon"}`)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", meta.ID, "id falls back to the file stem")
	assert.Empty(t, meta.Title)
	assert.Nil(t, meta.CreatedAt)
}

func TestChatSession_DocumentOutOfRangeDate(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "d.json"), `{"sessionId":"d","creationDate":9999999999999999}`)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Nil(t, meta.CreatedAt)
}

func TestChatSession_MalformedDocument(t *testing.T) {
	dir := t.TempDir()
	reg := Builtin(nil)
	e, ok := reg.Get(SourceVSCodeCopilot)
	require.True(t, ok)

	for name, content := range map[string]string{
		"truncated.json": `{"sessionId":"s1","requests":[{"message":`,
		"array.json":     `[1,2,3]`,
		"empty.json":     ``,
	} {
		path := writeFile(t, filepath.Join(dir, name), content)
		_, ok := reg.ExtractQuickMetadata(e, path, Context{})
		assert.False(t, ok, name)
	}
}

func TestChatSession_LinesHeader(t *testing.T) {
	content := `{"kind":0,"v":{"sessionId":"l1","creationDate":1700000000000,"requests":[{"message":{"text":"Explain the build"}}]}}
{"kind":1,"v":"ignored because header has text"}
`
	path := writeFile(t, filepath.Join(t.TempDir(), "l1.jsonl"), content)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "l1", meta.ID)
	assert.Equal(t, "Explain the build", meta.Title)
	require.NotNil(t, meta.CreatedAt)
}

func TestChatSession_LinesFallbackTitle(t *testing.T) {
	content := `{"kind":0,"v":{"sessionId":"l2","creationDate":1700000000000}}
{"kind":2,"k":["requests"],"v":[]}
{"kind":1,"v":"Refactor the storage layer please"}
`
	path := writeFile(t, filepath.Join(t.TempDir(), "l2.jsonl"), content)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Refactor the storage layer please", meta.Title)
}

func TestChatSession_LinesFallbackSkipsShortText(t *testing.T) {
	content := `{"kind":0,"v":{"sessionId":"l3"}}
{"kind":1,"v":"hey"}
{"kind":1,"v":"12345"}
{"kind":1,"v":"Write unit tests for the gate"}
`
	path := writeFile(t, filepath.Join(t.TempDir(), "l3.jsonl"), content)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Write unit tests for the gate", meta.Title)

	onlyShort := `{"kind":0,"v":{"sessionId":"l4"}}
{"kind":1,"v":"hey"}
{"kind":1,"v":"ok"}
`
	path = writeFile(t, filepath.Join(t.TempDir(), "l4.jsonl"), onlyShort)
	meta, err = NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Empty(t, meta.Title)
}

func TestChatSession_LinesFallbackWindow(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"kind":0,"v":{"sessionId":"l5"}}` + "\n")
	for i := 0; i < fallbackLines; i++ {
		b.WriteString(`{"kind":2,"v":[]}` + "\n")
	}
	b.WriteString(`{"kind":1,"v":"too far down to count"}` + "\n")
	path := writeFile(t, filepath.Join(t.TempDir(), "l5.jsonl"), b.String())

	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Empty(t, meta.Title)
}

func TestChatSession_LinesLongFallbackTruncated(t *testing.T) {
	long := strings.Repeat("é", 70)
	content := `{"kind":0,"v":{"sessionId":"l6"}}` + "\n" + fmt.Sprintf(`{"kind":1,"v":%q}`, long) + "\n"
	path := writeFile(t, filepath.Join(t.TempDir(), "l6.jsonl"), content)
	meta, err := NewVSCodeCopilot().Extract(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 60)+"...", meta.Title)
}

func TestChatSession_LinesRejected(t *testing.T) {
	dir := t.TempDir()
	e := NewVSCodeCopilot()
	cases := map[string]string{
		"wrong-kind.jsonl": `{"kind":1,"v":{"sessionId":"x"}}`,
		"no-object.jsonl":  `{"kind":0,"v":"text"}`,
		"garbage.jsonl":    `not json at all`,
		"empty.jsonl":      "",
	}
	for name, content := range cases {
		path := writeFile(t, filepath.Join(dir, name), content)
		_, err := e.Extract(path, Context{})
		assert.ErrorIs(t, err, ErrNotSession, name)
	}
}

func TestChatSession_Discover(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Code", "User", "workspaceStorage")
	writeFile(t, filepath.Join(root, "h1", "workspace.json"), `{"folder":"file:///home/u/my%20proj"}`)
	writeFile(t, filepath.Join(root, "h1", "chatSessions", "a.json"), `{}`)
	writeFile(t, filepath.Join(root, "h1", "chatSessions", "b.jsonl"), `{}`)
	writeFile(t, filepath.Join(root, "h1", "chatSessions", "notes.txt"), `x`)
	writeFile(t, filepath.Join(root, "h2", "state.vscdb"), `x`)

	cands, err := NewVSCodeCopilot().Discover(root)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "a.json", filepath.Base(cands[0].Path))
	assert.Equal(t, "my proj", cands[0].Context.WorkspaceName)
	assert.Equal(t, OriginVSCode, cands[0].Context.IDEOrigin)

	missing, err := NewVSCodeCopilot().Discover(filepath.Join(root, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestIDEOrigin(t *testing.T) {
	assert.Equal(t, OriginVSCodeInsiders, ideOrigin("/home/u/.config/Code - Insiders/User/workspaceStorage", SourceVSCodeCopilot))
	assert.Equal(t, OriginCursor, ideOrigin("/home/u/.config/Cursor/User/workspaceStorage", SourceCursor))
	assert.Equal(t, OriginCursor, ideOrigin("/tmp/x", SourceCursor))
	assert.Equal(t, OriginVSCode, ideOrigin("/tmp/x", SourceVSCodeCopilot))
}

func TestWorkspaceName(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, WorkspaceName(dir))
	writeFile(t, filepath.Join(dir, "workspace.json"), `{"workspace":"file:///home/u/team.code-workspace"}`)
	assert.Equal(t, "team", WorkspaceName(dir))
}
