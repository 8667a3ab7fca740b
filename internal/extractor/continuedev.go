package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sessionvault/internal/session"
)

const SourceContinueDev = "continue-dev"

// continueIndexFile 是会话列表索引，不是会话 / The session list index, not a session
const continueIndexFile = "sessions.json"

var continueIDEs = []string{OriginVSCode, OriginJetBrains}

// ContinueDev reads Continue sessions: $CONTINUE_GLOBAL_DIR/sessions/<id>.json,
// defaulting to ~/.continue/sessions.
type ContinueDev struct {
	roots []string
}

func NewContinueDev() *ContinueDev {
	var roots []string
	if v := strings.TrimSpace(os.Getenv("CONTINUE_GLOBAL_DIR")); v != "" {
		roots = append(roots, filepath.Join(v, "sessions"))
	}
	if home := homeDir(); home != "" {
		p := filepath.Join(home, ".continue", "sessions")
		if len(roots) == 0 || roots[0] != p {
			roots = append(roots, p)
		}
	}
	return &ContinueDev{roots: roots}
}

func (c *ContinueDev) Source() string          { return SourceContinueDev }
func (c *ContinueDev) Kind() Kind              { return KindExtension }
func (c *ContinueDev) SupportedIDEs() []string { return continueIDEs }
func (c *ContinueDev) Extensions() []string    { return []string{".json"} }
func (c *ContinueDev) DefaultRoots() []string  { return c.roots }

func (c *ContinueDev) Discover(root string) ([]Candidate, error) {
	files, err := listFiles(root, c.Extensions())
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(files))
	for _, f := range files {
		if filepath.Base(f) == continueIndexFile {
			continue
		}
		out = append(out, Candidate{Path: f})
	}
	return out, nil
}

// Extract requires a session id and a non-empty history; empty sessions are
// what Continue writes for a chat panel that was opened and never used.
func (c *ContinueDev) Extract(path string, ctx Context) (session.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Metadata{}, err
	}
	if !gjson.ValidBytes(data) {
		return session.Metadata{}, fmt.Errorf("%w: invalid JSON", ErrNotSession)
	}
	doc := gjson.ParseBytes(data)
	id := strings.TrimSpace(stringField(doc.Get("sessionId")))
	if id == "" {
		return session.Metadata{}, fmt.Errorf("%w: no sessionId", ErrNotSession)
	}
	history := doc.Get("history")
	if !history.IsArray() || len(history.Array()) == 0 {
		return session.Metadata{}, fmt.Errorf("%w: empty history", ErrNotSession)
	}

	workspace := ctx.WorkspaceName
	if dir := strings.TrimRight(stringField(doc.Get("workspaceDirectory")), `/\`); dir != "" {
		workspace = dir[strings.LastIndexAny(dir, `/\`)+1:]
	}

	var created *time.Time
	if info, err := os.Stat(path); err == nil {
		t := info.ModTime().UTC()
		created = &t
	}

	return session.Metadata{
		ID:            id,
		Source:        SourceContinueDev,
		Title:         session.TruncateTitle(stringField(doc.Get("title"))),
		CreatedAt:     created,
		OriginalPath:  path,
		FileSize:      int64(len(data)),
		WorkspaceName: workspace,
		IDEOrigin:     ctx.IDEOrigin,
	}, nil
}
