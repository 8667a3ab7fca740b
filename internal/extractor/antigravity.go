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

const SourceAntigravity = "antigravity"

const (
	// antigravityChatTitle 会话是 protobuf，标题无法廉价读取 / Conversations are protobuf; no cheap title
	antigravityChatTitle = "Chat Conversation"
	// artifactMetaSuffix 与 brain 下每个 .md 产物并列的元数据文件后缀
	artifactMetaSuffix = ".metadata.json"
)

// Antigravity 读取 Antigravity IDE 的会话与 brain 产物
// Antigravity reads the Antigravity IDE store under ~/.gemini/antigravity:
// conversations/<id>.pb and brain/<conversation uuid>/<artifact>.md, the
// markdown plans and walkthroughs the agent writes next to a conversation.
type Antigravity struct {
	roots []string
}

func NewAntigravity() *Antigravity {
	var roots []string
	if home := homeDir(); home != "" {
		roots = append(roots, filepath.Join(home, ".gemini", "antigravity"))
	}
	return &Antigravity{roots: roots}
}

func (a *Antigravity) Source() string          { return SourceAntigravity }
func (a *Antigravity) Kind() Kind              { return KindIDE }
func (a *Antigravity) SupportedIDEs() []string { return nil }
func (a *Antigravity) Extensions() []string    { return []string{".pb", ".md"} }
func (a *Antigravity) DefaultRoots() []string  { return a.roots }

func (a *Antigravity) Discover(root string) ([]Candidate, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Candidate
	convs, err := listFiles(filepath.Join(root, "conversations"), []string{".pb"})
	if err != nil {
		return nil, err
	}
	for _, f := range convs {
		out = append(out, Candidate{Path: f})
	}

	brain := filepath.Join(root, "brain")
	entries, err := os.ReadDir(brain)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range entries {
		if !isDirOrSymlink(e, brain) {
			continue
		}
		files, err := listFiles(filepath.Join(brain, e.Name()), []string{".md"})
		if err != nil {
			continue
		}
		for _, f := range files {
			out = append(out, Candidate{Path: f})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (a *Antigravity) Extract(path string, ctx Context) (session.Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return session.Metadata{}, err
	}
	if info.Size() == 0 {
		return session.Metadata{}, fmt.Errorf("%w: empty file", ErrNotSession)
	}
	mtime := info.ModTime().UTC()
	meta := session.Metadata{
		Source:        SourceAntigravity,
		CreatedAt:     &mtime,
		OriginalPath:  path,
		FileSize:      info.Size(),
		WorkspaceName: ctx.WorkspaceName,
		IDEOrigin:     ctx.IDEOrigin,
	}

	if strings.EqualFold(filepath.Ext(path), ".pb") {
		meta.ID = stem(path)
		meta.Title = antigravityChatTitle
		return meta, nil
	}

	// 产物 id 带上所属会话，避免不同会话的同名产物冲突
	// Artifact ids carry their conversation so same-named artifacts stay distinct.
	conversation := filepath.Base(filepath.Dir(path))
	name := stem(path)
	meta.ID = conversation + "_" + name
	meta.Title = name
	if data, err := os.ReadFile(path + artifactMetaSuffix); err == nil && gjson.ValidBytes(data) {
		doc := gjson.ParseBytes(data)
		title := strings.TrimSpace(stringField(doc.Get("summary")))
		if title == "" {
			title = strings.TrimSpace(stringField(doc.Get("artifactType")))
		}
		if title != "" {
			meta.Title = session.TruncateTitle(title)
		}
		if t := parseRFC3339(stringField(doc.Get("updatedAt"))); t != nil {
			meta.CreatedAt = t
		}
	}
	return meta, nil
}
