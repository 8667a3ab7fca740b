package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"sessionvault/internal/session"
)

const SourceGeminiCLI = "gemini-cli"

// GeminiCLI reads Gemini CLI checkpoints: ~/.gemini/tmp/<project hash>/chats/*.json
type GeminiCLI struct {
	roots []string
}

func NewGeminiCLI() *GeminiCLI {
	var roots []string
	if home := homeDir(); home != "" {
		roots = append(roots, filepath.Join(home, ".gemini", "tmp"))
	}
	return &GeminiCLI{roots: roots}
}

func (g *GeminiCLI) Source() string          { return SourceGeminiCLI }
func (g *GeminiCLI) Kind() Kind              { return KindIDE }
func (g *GeminiCLI) SupportedIDEs() []string { return nil }
func (g *GeminiCLI) Extensions() []string    { return []string{".json"} }
func (g *GeminiCLI) DefaultRoots() []string  { return g.roots }

// Discover lists chats/*.json in every project directory under root. The
// project directory name (a hash of the project path) is the workspace.
func (g *GeminiCLI) Discover(root string) ([]Candidate, error) {
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
		files, err := listFiles(filepath.Join(root, e.Name(), "chats"), g.Extensions())
		if err != nil {
			continue
		}
		ctx := Context{WorkspaceName: e.Name()}
		for _, f := range files {
			out = append(out, Candidate{Path: f, Context: ctx})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (g *GeminiCLI) Extract(path string, ctx Context) (session.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Metadata{}, err
	}
	if !gjson.ValidBytes(data) {
		return session.Metadata{}, fmt.Errorf("%w: invalid JSON", ErrNotSession)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return session.Metadata{}, fmt.Errorf("%w: checkpoint is not an object", ErrNotSession)
	}

	id := strings.TrimSpace(stringField(doc.Get("sessionId")))
	if id == "" {
		id = stem(path)
	}
	title := strings.TrimSpace(stringField(doc.Get("summary")))
	if title == "" {
		title = geminiFirstUserText(doc.Get("messages"))
	}

	return session.Metadata{
		ID:            id,
		Source:        SourceGeminiCLI,
		Title:         session.TruncateTitle(title),
		CreatedAt:     parseRFC3339(stringField(doc.Get("startTime"))),
		OriginalPath:  path,
		FileSize:      int64(len(data)),
		WorkspaceName: ctx.WorkspaceName,
		IDEOrigin:     ctx.IDEOrigin,
	}, nil
}

// geminiFirstUserText returns the text of the first user message, whose
// content is either a string or a list of parts.
func geminiFirstUserText(messages gjson.Result) string {
	var text string
	messages.ForEach(func(_, msg gjson.Result) bool {
		if stringField(msg.Get("type")) != "user" {
			return true
		}
		content := msg.Get("content")
		if content.Type == gjson.String {
			text = content.String()
		} else {
			content.ForEach(func(_, part gjson.Result) bool {
				text = stringField(part.Get("text"))
				return text == ""
			})
		}
		return false
	})
	return strings.TrimSpace(text)
}
