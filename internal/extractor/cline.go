package extractor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sessionvault/internal/session"
)

const SourceCline = "cline"

const (
	OriginJetBrains = "JetBrains"

	clineHistoryFile  = "api_conversation_history.json"
	clineMetadataFile = "task_metadata.json"
	// clineHeadBytes 只读取会话开头来找第一条消息 / Prefix read while looking for the first message
	clineHeadBytes = 256 * 1024
)

// clineExtensionIDs 包含 Cline 及其分支 Roo Code / Cline and its Roo Code fork
var clineExtensionIDs = []string{"saoudrizwan.claude-dev", "rooveterinaryinc.roo-cline"}

// Cline 读取 Cline / Roo Code 任务目录
// Cline reads Cline (and Roo Code) task directories:
// <editor>/User/globalStorage/<extension>/tasks/<task id>/api_conversation_history.json
// and ~/.cline/data/tasks/<task id>/ for the JetBrains plugin.
type Cline struct {
	roots []string
}

func NewCline() *Cline {
	var roots []string
	if cfg := configDir(); cfg != "" {
		for _, editor := range []string{"Code", "Code - Insiders", "Cursor"} {
			for _, ext := range clineExtensionIDs {
				roots = append(roots, filepath.Join(cfg, editor, "User", "globalStorage", ext, "tasks"))
			}
		}
	}
	if home := homeDir(); home != "" {
		roots = append(roots, filepath.Join(home, ".cline", "data", "tasks"))
	}
	return &Cline{roots: roots}
}

var clineIDEs = []string{OriginVSCode, OriginVSCodeInsiders, OriginCursor, OriginJetBrains}

func (c *Cline) Source() string          { return SourceCline }
func (c *Cline) Kind() Kind              { return KindExtension }
func (c *Cline) SupportedIDEs() []string { return clineIDEs }
func (c *Cline) Extensions() []string    { return []string{".json"} }
func (c *Cline) DefaultRoots() []string  { return c.roots }

// Discover lists the conversation history of every task directory under root.
func (c *Cline) Discover(root string) ([]Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ctx := Context{IDEOrigin: clineOrigin(root)}
	var out []Candidate
	for _, e := range entries {
		if !isDirOrSymlink(e, root) {
			continue
		}
		history := filepath.Join(root, e.Name(), clineHistoryFile)
		if info, err := os.Stat(history); err != nil || info.IsDir() {
			continue
		}
		out = append(out, Candidate{Path: history, Context: ctx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// clineOrigin guesses the host editor from the storage root.
func clineOrigin(root string) string {
	if strings.Contains(filepath.ToSlash(root), "/.cline/") {
		return OriginJetBrains
	}
	return ideOrigin(root, SourceCline)
}

func (c *Cline) Extract(path string, ctx Context) (session.Metadata, error) {
	if filepath.Base(path) != clineHistoryFile {
		return session.Metadata{}, fmt.Errorf("%w: not a task history file", ErrNotSession)
	}
	f, err := os.Open(path)
	if err != nil {
		return session.Metadata{}, err
	}
	defer f.Close()

	head, err := io.ReadAll(io.LimitReader(f, clineHeadBytes))
	if err != nil {
		return session.Metadata{}, err
	}
	head = bytes.TrimSpace(head)
	if len(head) == 0 || head[0] != '[' {
		return session.Metadata{}, fmt.Errorf("%w: history is not a message list", ErrNotSession)
	}

	taskDir := filepath.Dir(path)
	id := filepath.Base(taskDir)
	origin := clineHostName(taskDir)
	if origin == "" {
		origin = ctx.IDEOrigin
	}

	return session.Metadata{
		ID:            id,
		Source:        SourceCline,
		Title:         session.TruncateTitle(clineTitle(gjson.GetBytes(head, "0.content"))),
		CreatedAt:     clineCreated(id, taskDir),
		OriginalPath:  path,
		FileSize:      dirSize(taskDir),
		WorkspaceName: ctx.WorkspaceName,
		IDEOrigin:     origin,
	}, nil
}

// clineTitle returns the first message's text; the task prompt is wrapped in <task> tags.
func clineTitle(content gjson.Result) string {
	var text string
	switch {
	case content.Type == gjson.String:
		text = content.String()
	case content.IsArray():
		text = stringField(content.Get("0.text"))
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "<task>")
	if i := strings.Index(text, "</task>"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// clineHostName reads the most recent host editor recorded in task_metadata.json.
func clineHostName(taskDir string) string {
	data, err := os.ReadFile(filepath.Join(taskDir, clineMetadataFile))
	if err != nil || !gjson.ValidBytes(data) {
		return ""
	}
	history := gjson.GetBytes(data, "environment_history").Array()
	if len(history) == 0 {
		return ""
	}
	return strings.TrimSpace(stringField(history[len(history)-1].Get("host_name")))
}

// clineCreated uses the task id, which Cline sets to the epoch milliseconds
// the task started at, and falls back to the directory modification time.
func clineCreated(id, taskDir string) *time.Time {
	if ms, err := strconv.ParseInt(id, 10, 64); err == nil && ms > 0 {
		if t := session.MillisToTime(ms); t != nil {
			return t
		}
	}
	info, err := os.Stat(taskDir)
	if err != nil {
		return nil
	}
	t := info.ModTime().UTC()
	return &t
}

// dirSize sums the regular files directly inside dir.
func dirSize(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}
