package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"sessionvault/internal/session"
)

const (
	SourceVSCodeCopilot = "vscode-copilot"
	SourceCursor        = "cursor"
)

// IDE origin tags.
const (
	OriginVSCode         = "VS Code"
	OriginVSCodeInsiders = "VS Code Insiders"
	OriginCursor         = "Cursor"
)

// ChatSession 读取 VS Code 系列编辑器的 chatSessions 文件（.json / .jsonl）
// ChatSession reads the chatSessions store shared by VS Code-family editors:
// <workspaceStorage>/<hash>/chatSessions/*.json|*.jsonl with workspace.json beside it.
type ChatSession struct {
	source string
	kind   Kind
	ides   []string
	roots  []string
}

// NewVSCodeCopilot returns the GitHub Copilot Chat extractor.
func NewVSCodeCopilot() *ChatSession {
	cfg := configDir()
	var roots []string
	if cfg != "" {
		roots = append(roots,
			filepath.Join(cfg, "Code", "User", "workspaceStorage"),
			filepath.Join(cfg, "Code - Insiders", "User", "workspaceStorage"),
		)
	}
	return &ChatSession{
		source: SourceVSCodeCopilot,
		kind:   KindExtension,
		ides:   []string{OriginVSCode, OriginVSCodeInsiders},
		roots:  roots,
	}
}

// NewCursor returns the Cursor IDE extractor.
func NewCursor() *ChatSession {
	var roots []string
	if cfg := configDir(); cfg != "" {
		roots = append(roots, filepath.Join(cfg, "Cursor", "User", "workspaceStorage"))
	}
	return &ChatSession{
		source: SourceCursor,
		kind:   KindIDE,
		roots:  roots,
	}
}

func (c *ChatSession) Source() string          { return c.source }
func (c *ChatSession) Kind() Kind              { return c.kind }
func (c *ChatSession) SupportedIDEs() []string { return c.ides }
func (c *ChatSession) Extensions() []string    { return []string{".json", ".jsonl"} }
func (c *ChatSession) DefaultRoots() []string  { return c.roots }

// Discover lists chat session files under a workspaceStorage root. A root
// that is itself a workspace directory (has chatSessions/) is accepted too.
func (c *ChatSession) Discover(root string) ([]Candidate, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}

	origin := ideOrigin(root, c.source)
	if dirExists(filepath.Join(root, "chatSessions")) {
		return c.discoverWorkspace(root, origin)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entries {
		if !isDirOrSymlink(e, root) {
			continue
		}
		cands, err := c.discoverWorkspace(filepath.Join(root, e.Name()), origin)
		if err != nil {
			continue
		}
		out = append(out, cands...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *ChatSession) discoverWorkspace(dir, origin string) ([]Candidate, error) {
	files, err := listFiles(filepath.Join(dir, "chatSessions"), c.Extensions())
	if err != nil || len(files) == 0 {
		return nil, err
	}
	ctx := Context{WorkspaceName: WorkspaceName(dir), IDEOrigin: origin}
	out := make([]Candidate, 0, len(files))
	for _, f := range files {
		out = append(out, Candidate{Path: f, Context: ctx})
	}
	return out, nil
}

// Extract reads the session header fields of a .json or .jsonl chat session.
func (c *ChatSession) Extract(path string, ctx Context) (session.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Metadata{}, err
	}
	defer f.Close()

	var h chatHeader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		h, err = readChatLines(f)
	default:
		h, err = readChatDocument(f)
	}
	if err != nil {
		return session.Metadata{}, err
	}

	meta := session.Metadata{
		ID:            h.id,
		Source:        c.source,
		Title:         h.title(),
		OriginalPath:  path,
		FileSize:      fileSize(path),
		WorkspaceName: ctx.WorkspaceName,
		IDEOrigin:     ctx.IDEOrigin,
	}
	if meta.ID == "" {
		meta.ID = stem(path)
	}
	if h.hasDate {
		meta.CreatedAt = session.MillisToTime(h.creationDate)
	}
	return meta, nil
}

// chatHeader holds the recognised fields of one chat session.
type chatHeader struct {
	id             string
	creationDate   int64
	hasDate        bool
	customTitle    string
	firstUserText  string
	hasCustomTitle bool
}

func (h chatHeader) title() string {
	if t := session.TruncateTitle(h.customTitle); t != "" {
		return t
	}
	return session.TruncateTitle(h.firstUserText)
}

// done reports whether nothing later in the document can change the result.
func (h chatHeader) done() bool {
	return h.id != "" && h.hasDate && h.hasCustomTitle
}

// readChatDocument walks a single-document session with the token stream,
// decoding only sessionId, creationDate, customTitle and requests[0].message.text.
// Every other value, including requests[1:], is skipped token by token.
func readChatDocument(r io.Reader) (chatHeader, error) {
	var h chatHeader
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrNotSession, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return h, fmt.Errorf("%w: document is not an object", ErrNotSession)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return h, fmt.Errorf("%w: %v", ErrNotSession, err)
		}
		key, _ := keyTok.(string)

		switch key {
		case "sessionId":
			if s, ok := decodeString(dec); ok {
				h.id = strings.TrimSpace(s)
			}
		case "customTitle":
			if s, ok := decodeString(dec); ok && strings.TrimSpace(s) != "" {
				h.customTitle = s
				h.hasCustomTitle = true
			}
		case "creationDate":
			if ms, ok := decodeMillis(dec); ok {
				h.creationDate, h.hasDate = ms, true
			}
		case "requests":
			text, err := readFirstRequestText(dec)
			if err != nil {
				return h, fmt.Errorf("%w: %v", ErrNotSession, err)
			}
			h.firstUserText = text
		default:
			if err := skipValue(dec); err != nil {
				return h, fmt.Errorf("%w: %v", ErrNotSession, err)
			}
		}
		if h.done() {
			return h, nil
		}
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return h, fmt.Errorf("%w: %v", ErrNotSession, err)
	}
	return h, nil
}

// readFirstRequestText decodes requests[0].message.text and skips the rest of the list.
func readFirstRequestText(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return "", nil // null or scalar
	}
	if d != '[' {
		return "", skipRest(dec, 1)
	}

	var text string
	if dec.More() {
		var first struct {
			Message struct {
				Text json.RawMessage `json:"text"`
			} `json:"message"`
		}
		if err := dec.Decode(&first); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				return "", err
			}
		}
		_ = json.Unmarshal(first.Message.Text, &text)
	}
	for dec.More() {
		if err := skipValue(dec); err != nil {
			return "", err
		}
	}
	if _, err := dec.Token(); err != nil { // ']'
		return "", err
	}
	return text, nil
}

func decodeString(dec *json.Decoder) (string, bool) {
	tok, err := dec.Token()
	if err != nil {
		return "", false
	}
	switch v := tok.(type) {
	case string:
		return v, true
	case json.Delim:
		_ = skipRest(dec, 1)
	}
	return "", false
}

func decodeMillis(dec *json.Decoder) (int64, bool) {
	tok, err := dec.Token()
	if err != nil {
		return 0, false
	}
	switch v := tok.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case json.Delim:
		_ = skipRest(dec, 1)
	}
	return 0, false
}

// skipValue consumes one complete value from the token stream.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		return skipRest(dec, 1)
	}
	return nil
}

// skipRest consumes tokens until depth open containers are closed.
func skipRest(dec *json.Decoder, depth int) error {
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// readChatLines reads the line-delimited variant: a header {"kind":0,"v":{...}}
// followed by patch lines; {"kind":1,"v":"<text>"} lines carry user text.
func readChatLines(r io.Reader) (chatHeader, error) {
	var h chatHeader
	lr := newLineReader(r)

	first, valid, ok := lr.next()
	if !ok {
		if err := lr.err(); err != nil {
			return h, fmt.Errorf("%w: %v", ErrNotSession, err)
		}
		return h, fmt.Errorf("%w: empty file", ErrNotSession)
	}
	if !valid {
		return h, fmt.Errorf("%w: header line is not JSON", ErrNotSession)
	}
	if kind := first.Get("kind"); kind.Exists() && (kind.Type != gjson.Number || kind.Int() != 0) {
		return h, fmt.Errorf("%w: header kind %s", ErrNotSession, kind.Raw)
	}
	v := first.Get("v")
	if !v.IsObject() {
		return h, fmt.Errorf("%w: header has no session object", ErrNotSession)
	}

	h.id = strings.TrimSpace(stringField(v.Get("sessionId")))
	if d := v.Get("creationDate"); d.Type == gjson.Number {
		h.creationDate, h.hasDate = d.Int(), true
	}
	if t := stringField(v.Get("customTitle")); strings.TrimSpace(t) != "" {
		h.customTitle, h.hasCustomTitle = t, true
	}
	h.firstUserText = stringField(v.Get("requests.0.message.text"))
	if h.title() != "" {
		return h, nil
	}

	for i := 0; i < fallbackLines; i++ {
		line, valid, ok := lr.next()
		if !ok {
			break
		}
		if !valid {
			continue
		}
		kind := line.Get("kind")
		if kind.Type != gjson.Number || kind.Int() != 1 {
			continue
		}
		if text := stringField(line.Get("v")); substantial(text) {
			h.firstUserText = text
			break
		}
	}
	return h, nil
}

// WorkspaceName 从 workspace.json 读取工作区名（folder URI 的最后一段）
// WorkspaceName reads workspace.json in a VS Code workspace storage directory and
// returns the last segment of its folder (or workspace) URI. Unknown yields "".
func WorkspaceName(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "workspace.json"))
	if err != nil || !gjson.ValidBytes(data) {
		return ""
	}
	doc := gjson.ParseBytes(data)
	uri := stringField(doc.Get("folder"))
	if uri == "" {
		uri = stringField(doc.Get("workspace"))
	}
	if uri == "" {
		return ""
	}
	uri = strings.TrimRight(uri, "/")
	name := uri[strings.LastIndex(uri, "/")+1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return strings.TrimSuffix(name, ".code-workspace")
}

// ideOrigin maps a storage root to the editor that owns it.
func ideOrigin(root, source string) string {
	p := filepath.ToSlash(root)
	switch {
	case strings.Contains(p, "/Cursor/"), strings.HasSuffix(p, "/Cursor"):
		return OriginCursor
	case strings.Contains(p, "/Code - Insiders/"):
		return OriginVSCodeInsiders
	case strings.Contains(p, "/Code/"):
		return OriginVSCode
	}
	if source == SourceCursor {
		return OriginCursor
	}
	return OriginVSCode
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
