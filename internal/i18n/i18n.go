package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Catalog 用户可见文本目录
// Catalog holds the user-facing strings of one locale, falling back to English.
type Catalog struct {
	locale   string
	messages map[string]string
	mu       sync.RWMutex
}

var (
	global   *Catalog
	globalMu sync.RWMutex
)

// Global 返回全局目录；首次调用时按环境检测语言
// Global returns the process-wide catalog, detecting the locale on first use.
func Global() *Catalog {
	globalMu.RLock()
	c := global
	globalMu.RUnlock()
	if c != nil {
		return c
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("")
	}
	return global
}

// Init 设置全局语言 / Sets the process-wide locale
func Init(locale string) {
	c := New(locale)
	globalMu.Lock()
	global = c
	globalMu.Unlock()
}

// T 全局翻译快捷函数 / Translates with the global catalog
func T(key string, args ...any) string {
	return Global().T(key, args...)
}

// New 创建目录；locale 为空时从环境检测
// New creates a catalog. An empty locale is detected from the environment.
func New(locale string) *Catalog {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DetectLocale()
	}
	locale = normalizeLocale(locale)

	c := &Catalog{
		locale:   locale,
		messages: make(map[string]string, len(EnMessages)),
	}
	for k, v := range EnMessages {
		c.messages[k] = v
	}
	if locale == "zh-CN" {
		for k, v := range ZhCNMessages {
			c.messages[k] = v
		}
	}
	return c
}

// T 翻译；缺失的 key 原样返回 / Translates key; unknown keys are returned verbatim
func (c *Catalog) T(key string, args ...any) string {
	c.mu.RLock()
	tmpl, ok := c.messages[key]
	c.mu.RUnlock()

	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func (c *Catalog) Locale() string {
	return c.locale
}

// DetectLocale 按 VAULT_LANG、LANG、LC_ALL、LC_MESSAGES 顺序检测
// DetectLocale reads VAULT_LANG, then the POSIX locale variables.
func DetectLocale() string {
	for _, env := range []string{"VAULT_LANG", "LANG", "LC_ALL", "LC_MESSAGES"} {
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		return normalizeLocale(v)
	}
	return "en"
}

func normalizeLocale(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "en"
	}
	// 去掉 .UTF-8 等后缀 / Remove .UTF-8 suffix
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "_", "-")
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, "zh"):
		return "zh-CN"
	case strings.HasPrefix(lower, "en"):
		return "en"
	}
	return s
}
