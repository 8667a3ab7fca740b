package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sessionvault/internal/session"
)

const SourceClaudeCode = "claude-code"

// claudeScanLines bounds how far into a transcript the header fields are looked for.
const claudeScanLines = 50

// ClaudeCode reads Claude Code CLI transcripts:
// ~/.claude/projects/<path-encoded-project>/<session>.jsonl
type ClaudeCode struct {
	roots []string
}

func NewClaudeCode() *ClaudeCode {
	var roots []string
	if home := homeDir(); home != "" {
		roots = append(roots, filepath.Join(home, ".claude", "projects"))
	}
	return &ClaudeCode{roots: roots}
}

func (c *ClaudeCode) Source() string          { return SourceClaudeCode }
func (c *ClaudeCode) Kind() Kind              { return KindIDE }
func (c *ClaudeCode) SupportedIDEs() []string { return nil }
func (c *ClaudeCode) Extensions() []string    { return []string{".jsonl"} }
func (c *ClaudeCode) DefaultRoots() []string  { return c.roots }

// Discover lists top-level transcripts in every project directory under root.
// Subagent transcripts (agent-*.jsonl, <session>/subagents/) are not sessions.
func (c *ClaudeCode) Discover(root string) ([]Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Candidate
	for _, e := range entries {
		if !isDirOrSymlink(e, root) {
			continue
		}
		projDir := filepath.Join(root, e.Name())
		files, err := listFiles(projDir, c.Extensions())
		if err != nil {
			continue
		}
		ctx := Context{WorkspaceName: decodeProjectName(e.Name())}
		for _, f := range files {
			if strings.HasPrefix(filepath.Base(f), "agent-") {
				continue
			}
			out = append(out, Candidate{Path: f, Context: ctx})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// decodeProjectName turns "-Users-bill-My-Project" into its last segment.
func decodeProjectName(encoded string) string {
	parts := strings.FieldsFunc(encoded, func(r rune) bool { return r == '-' })
	if len(parts) == 0 {
		return encoded
	}
	return parts[len(parts)-1]
}

func (c *ClaudeCode) Extract(path string, ctx Context) (session.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Metadata{}, err
	}
	defer f.Close()

	if size := fileSize(path); size < 10 {
		return session.Metadata{}, fmt.Errorf("%w: file too small", ErrNotSession)
	}

	var (
		id, title string
		created   *time.Time
		parsed    int
	)
	lr := newLineReader(f)
	for i := 0; i < claudeScanLines; i++ {
		line, valid, ok := lr.next()
		if !ok {
			break
		}
		if !valid {
			continue
		}
		parsed++

		if id == "" {
			id = strings.TrimSpace(stringField(line.Get("sessionId")))
		}
		if created == nil {
			created = parseRFC3339(stringField(line.Get("timestamp")))
		}
		if title == "" && isClaudeUserLine(line) {
			if text := claudeText(line.Get("message.content")); text != "" {
				title = session.TruncateTitle(text)
			}
		}
		if id != "" && title != "" && created != nil {
			break
		}
	}
	if parsed == 0 {
		return session.Metadata{}, fmt.Errorf("%w: no JSON lines", ErrNotSession)
	}
	if id == "" {
		id = stem(path)
	}

	return session.Metadata{
		ID:            id,
		Source:        SourceClaudeCode,
		Title:         title,
		CreatedAt:     created,
		OriginalPath:  path,
		FileSize:      fileSize(path),
		WorkspaceName: ctx.WorkspaceName,
		IDEOrigin:     ctx.IDEOrigin,
	}, nil
}

func isClaudeUserLine(line gjson.Result) bool {
	if line.Get("isMeta").Bool() {
		return false
	}
	return stringField(line.Get("type")) == "user" || stringField(line.Get("message.role")) == "user"
}

// claudeText returns the first human-written text of a message content value,
// which is either a string or a list of typed parts.
func claudeText(content gjson.Result) string {
	var text string
	if content.Type == gjson.String {
		text = content.String()
	} else if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			if stringField(part.Get("type")) == "text" {
				text = stringField(part.Get("text"))
				return text == ""
			}
			return true
		})
	}
	text = strings.TrimSpace(text)
	// 命令/系统注入内容不是标题 / Command echoes and injected context are not titles
	if strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}

func parseRFC3339(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
