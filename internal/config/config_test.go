package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate points HOME at a temp dir, clears VAULT_* overrides and moves into
// an empty working directory.
func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"VAULT_CONFIG_PATH", "VAULT_PATH", "VAULT_EXPORT_PATH", "VAULT_DB_PATH", "VAULT_ADDR",
		"VAULT_LOG_LEVEL", "VAULT_EMBEDDING_API_KEY", "VAULT_EMBEDDING_MODEL",
		"VAULT_SCAN_INTERVAL_MS", "OPENAI_API_KEY",
	} {
		t.Setenv(k, "")
	}
	work = t.TempDir()
	oldwd, _ := os.Getwd()
	if err := os.Chdir(work); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	return home, work
}

func TestLoadDefaults(t *testing.T) {
	home, _ := isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VaultPath != filepath.Join(home, ".sessionvault", "vault") {
		t.Fatalf("vault_path=%q", cfg.VaultPath)
	}
	if cfg.Storage.DBPath != filepath.Join(home, ".sessionvault", "index.db") {
		t.Fatalf("db_path=%q", cfg.Storage.DBPath)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	if cfg.Scan.DeletionPolicy != DeletionMark {
		t.Fatalf("deletion_policy=%q", cfg.Scan.DeletionPolicy)
	}
	if cfg.Embedding.Enabled() {
		t.Fatalf("embedding should be disabled without an api key")
	}
}

func TestLoadJSONCAndPrecedence(t *testing.T) {
	home, _ := isolate(t)

	globalDir := filepath.Join(home, ".sessionvault")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	globalCfg := `{
  // global
  "vault_path": "~/global-vault",
  "scan": {"copy_to_vault": true, "interval_ms": 1000},
  "sources": [{"name": "cursor", "enabled": false}, {"name": "codex", "roots": ["~/codex"]}]
}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.jsonc"), []byte(globalCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	projectCfg := `{
  /* project wins */
  "vault_path": "~/project-vault",
  "scan": {"copy_to_vault": false},
  "sources": [{"name": "codex", "roots": ["~/other-codex"], "exclude": ["**/tmp/**"]}]
}`
	if err := os.WriteFile("sessionvault.config.jsonc", []byte(projectCfg), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VaultPath != filepath.Join(home, "project-vault") {
		t.Fatalf("vault_path=%q", cfg.VaultPath)
	}
	if cfg.Scan.CopyToVault {
		t.Fatalf("scan.copy_to_vault expected false")
	}
	if cfg.Scan.IntervalMS != 1000 {
		t.Fatalf("scan.interval_ms=%d, want 1000 from global", cfg.Scan.IntervalMS)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("sources=%#v", cfg.Sources)
	}
	if cfg.Sources[0].IsEnabled() {
		t.Fatalf("cursor should be disabled")
	}
	codex := cfg.Sources[1]
	if len(codex.Roots) != 1 || codex.Roots[0] != filepath.Join(home, "other-codex") {
		t.Fatalf("codex roots=%#v", codex.Roots)
	}
	if len(codex.Exclude) != 1 {
		t.Fatalf("codex exclude=%#v", codex.Exclude)
	}
}

func TestLoadYAML(t *testing.T) {
	isolate(t)
	yamlCfg := `
export_path: /tmp/exports
server:
  addr: 127.0.0.1:9999
embedding:
  model: custom-embed
  max_tokens: 256
log:
  level: DEBUG
  format: json
`
	if err := os.WriteFile("sessionvault.config.yaml", []byte(yamlCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExportPath != "/tmp/exports" {
		t.Fatalf("export_path=%q", cfg.ExportPath)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	if cfg.Embedding.Model != "custom-embed" || cfg.Embedding.MaxTokens != 256 {
		t.Fatalf("embedding=%#v", cfg.Embedding)
	}
	if cfg.Embedding.BatchSize != 64 {
		t.Fatalf("batch_size=%d, want default 64", cfg.Embedding.BatchSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log=%#v", cfg.Log)
	}
}

func TestEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("VAULT_ADDR", "0.0.0.0:1")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	t.Setenv("VAULT_SCAN_INTERVAL_MS", "0")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:1" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	if cfg.Embedding.APIKey != "sk-fallback" {
		t.Fatalf("api_key=%q", cfg.Embedding.APIKey)
	}
	if cfg.Scan.IntervalMS != 0 {
		t.Fatalf("interval=%d, want 0", cfg.Scan.IntervalMS)
	}

	t.Setenv("VAULT_EMBEDDING_API_KEY", "sk-vault")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-vault" {
		t.Fatalf("api_key=%q, want VAULT_EMBEDDING_API_KEY to win", cfg.Embedding.APIKey)
	}
}

func TestInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("VAULT_SCAN_INTERVAL_MS", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid interval")
	}

	t.Setenv("VAULT_SCAN_INTERVAL_MS", "")
	if err := os.WriteFile("sessionvault.config.json", []byte(`{"scan":{"deletion_policy":"purge"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown deletion policy")
	}

	if _, err := Load("does-not-exist.json"); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestDotEnv(t *testing.T) {
	isolate(t)
	if err := os.WriteFile(".env", []byte("VAULT_EMBEDDING_MODEL=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VAULT_EMBEDDING_MODEL", "")
	_ = os.Unsetenv("VAULT_EMBEDDING_MODEL")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Model != "from-dotenv" {
		t.Fatalf("model=%q", cfg.Embedding.Model)
	}
}

func TestInitProjectConfigScaffold(t *testing.T) {
	_, work := isolate(t)
	path, err := InitProjectConfigScaffold(work, true)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "sessionvault.config.yaml" {
		t.Fatalf("path=%q", path)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("scaffold should load: %v", err)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	// 已存在时不覆盖 / Existing file is kept
	if err := os.WriteFile(path, []byte("locale: zh-CN\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := InitProjectConfigScaffold(work, true); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "locale: zh-CN\n" {
		t.Fatalf("scaffold overwrote existing config: %q", data)
	}
}
