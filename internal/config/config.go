package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Deletion policies for sessions that disappear from disk.
const (
	DeletionMark   = "mark"
	DeletionRetain = "retain"
)

type SourceConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Roots   []string `json:"roots" yaml:"roots"`
	Include []string `json:"include" yaml:"include"`
	Exclude []string `json:"exclude" yaml:"exclude"`
	Enabled *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the source takes part in scans (default true).
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type ScanConfig struct {
	IntervalMS int `json:"interval_ms" yaml:"interval_ms"`
	// WatchDebounceMS 文件变化后等待多久再扫描；0 关闭监听
	// WatchDebounceMS is the quiet period after a file change before a scan runs. 0 disables watching.
	WatchDebounceMS int    `json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
	DeletionPolicy  string `json:"deletion_policy" yaml:"deletion_policy"`
	CopyToVault     bool   `json:"copy_to_vault" yaml:"copy_to_vault"`
}

type StorageConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type EmbeddingConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// Enabled reports whether semantic search can call the embeddings endpoint.
func (e EmbeddingConfig) Enabled() bool {
	return strings.TrimSpace(e.APIKey) != ""
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file" yaml:"file"`
}

type Config struct {
	VaultPath  string          `json:"vault_path" yaml:"vault_path"`
	ExportPath string          `json:"export_path" yaml:"export_path"`
	Storage    StorageConfig   `json:"storage" yaml:"storage"`
	Sources    []SourceConfig  `json:"sources" yaml:"sources"`
	Scan       ScanConfig      `json:"scan" yaml:"scan"`
	Server     ServerConfig    `json:"server" yaml:"server"`
	Embedding  EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Log        LogConfig       `json:"log" yaml:"log"`
	Locale     string          `json:"locale" yaml:"locale"`
}

type fileScanConfig struct {
	IntervalMS      *int    `json:"interval_ms" yaml:"interval_ms"`
	WatchDebounceMS *int    `json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
	DeletionPolicy  *string `json:"deletion_policy" yaml:"deletion_policy"`
	CopyToVault     *bool   `json:"copy_to_vault" yaml:"copy_to_vault"`
}

type fileConfig struct {
	VaultPath  *string          `json:"vault_path" yaml:"vault_path"`
	ExportPath *string          `json:"export_path" yaml:"export_path"`
	Storage    *StorageConfig   `json:"storage" yaml:"storage"`
	Sources    *[]SourceConfig  `json:"sources" yaml:"sources"`
	Scan       *fileScanConfig  `json:"scan" yaml:"scan"`
	Server     *ServerConfig    `json:"server" yaml:"server"`
	Embedding  *EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Log        *LogConfig       `json:"log" yaml:"log"`
	Locale     *string          `json:"locale" yaml:"locale"`
}

const (
	DefaultBaseDir         = "~/.sessionvault"
	DefaultAddr            = "127.0.0.1:7420"
	DefaultScanIntervalMS  = 5 * 60 * 1000
	DefaultWatchDebounceMS = 500
	DefaultEmbeddingURL    = "https://api.openai.com/v1"
	DefaultEmbeddingModel  = "text-embedding-3-small"
)

func Default() Config {
	return Config{
		VaultPath: DefaultBaseDir + "/vault",
		Storage:   StorageConfig{DBPath: DefaultBaseDir + "/index.db"},
		Scan: ScanConfig{
			IntervalMS:      DefaultScanIntervalMS,
			WatchDebounceMS: DefaultWatchDebounceMS,
			DeletionPolicy:  DeletionMark,
		},
		Server: ServerConfig{Addr: DefaultAddr},
		Embedding: EmbeddingConfig{
			BaseURL:   DefaultEmbeddingURL,
			Model:     DefaultEmbeddingModel,
			MaxTokens: 512,
			BatchSize: 64,
			TimeoutMS: 30000,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load 按层加载配置：默认值 -> 全局文件 -> 项目文件 -> .env -> 环境变量
// Load layers configuration: defaults, the global file, the project file (path,
// VAULT_CONFIG_PATH or a discovered sessionvault.config.*), .env files, then
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("VAULT_CONFIG_PATH")); envPath != "" && resolvedPath == "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	} else if _, err := os.Stat(resolvedPath); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", resolvedPath, err)
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".sessionvault")
	// 只取第一个存在的 / Only the first existing file is used
	for _, name := range []string{"config.json", "config.jsonc", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return []string{p}
		}
	}
	return nil
}

func findProjectConfigPath() string {
	candidates := []string{
		"sessionvault.config.json",
		"sessionvault.config.jsonc",
		"sessionvault.config.yaml",
		"sessionvault.config.yml",
		".sessionvault/config.json",
		".sessionvault/config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadDotEnv 加载 .env（不覆盖已存在的环境变量）
// loadDotEnv loads ./.env and ~/.sessionvault/.env without overriding variables
// that are already set.
func loadDotEnv() error {
	paths := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".sessionvault", ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(stripJSONComments(data), &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.VaultPath != nil && strings.TrimSpace(*fc.VaultPath) != "" {
		cfg.VaultPath = *fc.VaultPath
	}
	if fc.ExportPath != nil {
		cfg.ExportPath = *fc.ExportPath
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.DBPath) != "" {
		cfg.Storage.DBPath = fc.Storage.DBPath
	}
	if fc.Sources != nil {
		cfg.Sources = mergeSources(cfg.Sources, *fc.Sources)
	}
	if fc.Scan != nil {
		if fc.Scan.IntervalMS != nil {
			cfg.Scan.IntervalMS = *fc.Scan.IntervalMS
		}
		if fc.Scan.WatchDebounceMS != nil {
			cfg.Scan.WatchDebounceMS = *fc.Scan.WatchDebounceMS
		}
		if fc.Scan.DeletionPolicy != nil {
			cfg.Scan.DeletionPolicy = *fc.Scan.DeletionPolicy
		}
		if fc.Scan.CopyToVault != nil {
			cfg.Scan.CopyToVault = *fc.Scan.CopyToVault
		}
	}
	if fc.Server != nil && strings.TrimSpace(fc.Server.Addr) != "" {
		cfg.Server.Addr = fc.Server.Addr
	}
	if fc.Embedding != nil {
		cfg.Embedding = mergeEmbedding(cfg.Embedding, *fc.Embedding)
	}
	if fc.Log != nil {
		cfg.Log = mergeLog(cfg.Log, *fc.Log)
	}
	if fc.Locale != nil {
		cfg.Locale = *fc.Locale
	}
}

// mergeSources 按名称合并：后层同名来源整体覆盖前层
// mergeSources merges by name: a later layer's entry replaces an earlier one.
func mergeSources(base, override []SourceConfig) []SourceConfig {
	out := append([]SourceConfig(nil), base...)
	for _, o := range override {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			continue
		}
		o.Name = name
		replaced := false
		for i := range out {
			if out[i].Name == name {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

func mergeEmbedding(base, override EmbeddingConfig) EmbeddingConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.BatchSize > 0 {
		base.BatchSize = override.BatchSize
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeLog(base, override LogConfig) LogConfig {
	if strings.TrimSpace(override.Level) != "" {
		base.Level = override.Level
	}
	if strings.TrimSpace(override.Format) != "" {
		base.Format = override.Format
	}
	if strings.TrimSpace(override.File) != "" {
		base.File = override.File
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()

	vault, err := expandPath(firstNonEmpty(cfg.VaultPath, def.VaultPath))
	if err != nil {
		return err
	}
	cfg.VaultPath = vault

	if cfg.ExportPath, err = expandPath(cfg.ExportPath); err != nil {
		return err
	}
	if cfg.Storage.DBPath, err = expandPath(firstNonEmpty(cfg.Storage.DBPath, def.Storage.DBPath)); err != nil {
		return err
	}
	if cfg.Log.File != "" {
		if cfg.Log.File, err = expandPath(cfg.Log.File); err != nil {
			return err
		}
	}

	for i := range cfg.Sources {
		cfg.Sources[i].Name = strings.TrimSpace(cfg.Sources[i].Name)
		cfg.Sources[i].Roots = normalizePaths(cfg.Sources[i].Roots)
	}

	if cfg.Scan.IntervalMS < 0 {
		return fmt.Errorf("scan.interval_ms must not be negative: %d", cfg.Scan.IntervalMS)
	}
	if cfg.Scan.WatchDebounceMS < 0 {
		return fmt.Errorf("scan.watch_debounce_ms must not be negative: %d", cfg.Scan.WatchDebounceMS)
	}
	policy := strings.ToLower(strings.TrimSpace(cfg.Scan.DeletionPolicy))
	switch policy {
	case "":
		policy = DeletionMark
	case DeletionMark, DeletionRetain:
	default:
		return fmt.Errorf("unknown scan.deletion_policy %q (want %q or %q)", cfg.Scan.DeletionPolicy, DeletionMark, DeletionRetain)
	}
	cfg.Scan.DeletionPolicy = policy

	cfg.Server.Addr = firstNonEmpty(cfg.Server.Addr, def.Server.Addr)

	cfg.Embedding.BaseURL = firstNonEmpty(cfg.Embedding.BaseURL, def.Embedding.BaseURL)
	cfg.Embedding.Model = firstNonEmpty(cfg.Embedding.Model, def.Embedding.Model)
	if cfg.Embedding.MaxTokens <= 0 {
		cfg.Embedding.MaxTokens = def.Embedding.MaxTokens
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.TimeoutMS <= 0 {
		cfg.Embedding.TimeoutMS = def.Embedding.TimeoutMS
	}

	cfg.Log.Level = strings.ToLower(firstNonEmpty(cfg.Log.Level, def.Log.Level))
	cfg.Log.Format = strings.ToLower(firstNonEmpty(cfg.Log.Format, def.Log.Format))
	cfg.Locale = strings.TrimSpace(cfg.Locale)
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("VAULT_PATH")); v != "" {
		cfg.VaultPath = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_EXPORT_PATH")); v != "" {
		cfg.ExportPath = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_EMBEDDING_MODEL")); v != "" {
		cfg.Embedding.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("VAULT_SCAN_INTERVAL_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid VAULT_SCAN_INTERVAL_MS: %q", v)
		}
		cfg.Scan.IntervalMS = n
	}

	return cfg, normalize(&cfg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := map[string]struct{}{}
	for _, p := range paths {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			continue
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		out = append(out, expanded)
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
