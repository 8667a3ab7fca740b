package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// TitleMaxRunes 标题最大字符数 / Maximum title length in Unicode characters
	TitleMaxRunes = 60
	// TitleEllipsis 截断标记 / Marker appended to truncated titles
	TitleEllipsis = "..."
)

// Metadata 会话元数据，只包含索引字段，不包含内容
// Metadata describes one discovered session. It carries index fields only, never content.
type Metadata struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	Title         string     `json:"title,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	OriginalPath  string     `json:"original_path"`
	VaultPath     string     `json:"vault_path,omitempty"`
	FileSize      int64      `json:"file_size"`
	WorkspaceName string     `json:"workspace_name,omitempty"`
	IDEOrigin     string     `json:"ide_origin,omitempty"`
}

// Summary 扫描结果中的会话摘要
// Summary is the per-session row returned to callers of a scan.
type Summary struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Title         string `json:"title,omitempty"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	IDEOrigin     string `json:"ide_origin,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	FileSize      int64  `json:"file_size"`
	Path          string `json:"path"`
	VaultPath     string `json:"vault_path,omitempty"`
}

// Summarize 转换为摘要 / Converts metadata into a scan summary row
func (m Metadata) Summarize() Summary {
	s := Summary{
		ID:            m.ID,
		Source:        m.Source,
		Title:         m.Title,
		WorkspaceName: m.WorkspaceName,
		IDEOrigin:     m.IDEOrigin,
		FileSize:      m.FileSize,
		Path:          m.OriginalPath,
		VaultPath:     m.VaultPath,
	}
	if m.CreatedAt != nil {
		s.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// TruncateTitle 将候选文本截断为标题；空白文本返回 ""
// TruncateTitle turns candidate text into a title: at most TitleMaxRunes characters,
// with TitleEllipsis appended when the source was longer. Blank input yields "".
func TruncateTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxRunes]) + TitleEllipsis
}

// MillisToTime 将毫秒时间戳转换为时间；超出范围返回 nil
// MillisToTime converts epoch milliseconds. Values outside the range a time.Time can
// round-trip through RFC 3339 (years 0000-9999) yield nil instead of an error.
func MillisToTime(ms int64) *time.Time {
	const (
		minMillis = -62167219200000 // 0000-01-01T00:00:00Z
		maxMillis = 253402300799999 // 9999-12-31T23:59:59.999Z
	)
	if ms < minMillis || ms > maxMillis {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
