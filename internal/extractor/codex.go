package extractor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sessionvault/internal/session"
)

const SourceCodex = "codex"

const (
	codexScanLines = 50
	// sessions/YYYY/MM/DD/*.jsonl
	codexMaxDepth = 4
)

var rolloutIDRe = regexp.MustCompile(
	`^rollout-.*-([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-` +
		`[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`,
)

// Codex reads OpenAI Codex CLI rollouts: $CODEX_HOME/sessions/YYYY/MM/DD/rollout-*.jsonl
type Codex struct {
	roots []string
}

func NewCodex() *Codex {
	var roots []string
	if v := strings.TrimSpace(os.Getenv("CODEX_HOME")); v != "" {
		roots = append(roots, filepath.Join(v, "sessions"))
	}
	if home := homeDir(); home != "" {
		p := filepath.Join(home, ".codex", "sessions")
		if len(roots) == 0 || roots[0] != p {
			roots = append(roots, p)
		}
	}
	return &Codex{roots: roots}
}

func (c *Codex) Source() string          { return SourceCodex }
func (c *Codex) Kind() Kind              { return KindIDE }
func (c *Codex) SupportedIDEs() []string { return nil }
func (c *Codex) Extensions() []string    { return []string{".jsonl"} }
func (c *Codex) DefaultRoots() []string  { return c.roots }

// Discover walks the dated directory tree under root.
func (c *Codex) Discover(root string) ([]Candidate, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	base := strings.Count(filepath.Clean(root), string(filepath.Separator))

	var out []Candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.Count(filepath.Clean(path), string(filepath.Separator))-base > codexMaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".jsonl") {
			out = append(out, Candidate{Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *Codex) Extract(path string, ctx Context) (session.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Metadata{}, err
	}
	defer f.Close()

	if size := fileSize(path); size < 10 {
		return session.Metadata{}, fmt.Errorf("%w: file too small", ErrNotSession)
	}

	var (
		id, cwd, title string
		created        *time.Time
		parsed         int
	)
	lr := newLineReader(f)
	for i := 0; i < codexScanLines; i++ {
		line, valid, ok := lr.next()
		if !ok {
			break
		}
		if !valid {
			continue
		}
		parsed++

		payload := line.Get("payload")
		if !payload.Exists() {
			payload = line
		}
		switch stringField(line.Get("type")) {
		case "session_meta":
			id = strings.TrimSpace(stringField(payload.Get("id")))
			cwd = stringField(payload.Get("cwd"))
			if t := parseRFC3339(stringField(payload.Get("timestamp"))); t != nil {
				created = t
			}
		default:
			if title == "" && stringField(payload.Get("role")) == "user" {
				if text := codexText(payload.Get("content")); substantial(text) {
					title = session.TruncateTitle(text)
				}
			}
		}
		if created == nil {
			created = parseRFC3339(stringField(line.Get("timestamp")))
		}
		if id != "" && title != "" && created != nil {
			break
		}
	}
	if parsed == 0 {
		return session.Metadata{}, fmt.Errorf("%w: no JSON lines", ErrNotSession)
	}
	if id == "" {
		id = rolloutID(path)
	}

	workspace := ctx.WorkspaceName
	if workspace == "" && cwd != "" {
		workspace = filepath.Base(filepath.Clean(cwd))
	}
	return session.Metadata{
		ID:            id,
		Source:        SourceCodex,
		Title:         title,
		CreatedAt:     created,
		OriginalPath:  path,
		FileSize:      fileSize(path),
		WorkspaceName: workspace,
		IDEOrigin:     ctx.IDEOrigin,
	}, nil
}

// codexText returns the first input_text part that is not injected context.
func codexText(content gjson.Result) string {
	if content.Type == gjson.String {
		return userAuthored(content.String())
	}
	var text string
	content.ForEach(func(_, part gjson.Result) bool {
		typ := stringField(part.Get("type"))
		if typ != "input_text" && typ != "text" {
			return true
		}
		text = userAuthored(stringField(part.Get("text")))
		return text == ""
	})
	return text
}

func userAuthored(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case text == "",
		strings.HasPrefix(text, "<environment_context>"),
		strings.HasPrefix(text, "<user_instructions>"),
		strings.HasPrefix(text, "<permissions"),
		strings.Contains(text, "AGENTS.md"):
		return ""
	}
	return text
}

// rolloutID pulls the UUID out of "rollout-<timestamp>-<uuid>.jsonl".
func rolloutID(path string) string {
	s := stem(path)
	if m := rolloutIDRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
