package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// schemaVersion 当前 schema 版本，写入 PRAGMA user_version
// schemaVersion is the current schema version stored in PRAGMA user_version.
//
//	1: sessions + sync_log
//	2: ide_origin, missing, session_embeddings
//	3: session_aliases
const schemaVersion = 3

// LegacySource 从旧版 index.json 导入的会话来源名
// LegacySource is the source name given to sessions imported from a legacy vault index
const LegacySource = "vault"

const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	machine_id TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	file_size INTEGER NOT NULL,
	last_synced INTEGER NOT NULL,
	title TEXT,
	workspace_name TEXT,
	created_at TEXT,
	vault_path TEXT NOT NULL DEFAULT '',
	original_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_source ON sessions(source);
CREATE INDEX IF NOT EXISTS idx_sessions_mtime ON sessions(mtime);
CREATE TABLE IF NOT EXISTS sync_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	machine_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	action TEXT NOT NULL,
	details TEXT
);`

var upgradeV2 = []string{
	"ALTER TABLE sessions ADD COLUMN ide_origin TEXT",
	"ALTER TABLE sessions ADD COLUMN missing INTEGER NOT NULL DEFAULT 0",
	"CREATE INDEX IF NOT EXISTS idx_sessions_original_path ON sessions(original_path)",
	`CREATE TABLE IF NOT EXISTS session_embeddings (
		id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		text_hash TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// upgradeV3 记录与已有会话 id 重复的文件 / Files whose id duplicates a stored session
const upgradeV3 = `
CREATE TABLE IF NOT EXISTS session_aliases (
	path TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	id TEXT NOT NULL,
	mtime INTEGER NOT NULL
)`

// ensureSchema 创建或升级 schema；不兼容时返回 ErrFormat
// ensureSchema creates a fresh schema or upgrades an older one in place.
// A newer or unrecognised schema fails with ErrFormat.
func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return ioErr("read schema version", err)
	}
	if version > schemaVersion {
		return formatErr("open store", "schema version %d is newer than supported %d", version, schemaVersion)
	}

	cols, err := s.tableColumns(ctx, "sessions")
	if err != nil {
		return err
	}
	if len(cols) > 0 && !cols["mtime"] {
		return formatErr("open store", "sessions table has an unrecognised layout")
	}
	// 未设置版本号的旧库视为 v1 / Unversioned databases with a sessions table are v1
	if version == 0 && len(cols) > 0 {
		version = 1
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr("begin schema tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if version < 1 {
		if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
			return ioErr("create schema", err)
		}
	}
	if version < 2 {
		for _, stmt := range upgradeV2 {
			if strings.HasPrefix(stmt, "ALTER TABLE") && cols[alterColumn(stmt)] {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return ioErr("upgrade schema to v2", err)
			}
		}
	}
	if version < 3 {
		if _, err := tx.ExecContext(ctx, upgradeV3); err != nil {
			return ioErr("upgrade schema to v3", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
		return ioErr("write schema version", err)
	}
	if err := tx.Commit(); err != nil {
		return ioErr("commit schema", err)
	}
	return nil
}

func (s *SQLiteStore) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, ioErr("inspect schema", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, ioErr("scan table info", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate table info", err)
	}
	return cols, nil
}

// alterColumn extracts the column name from "ALTER TABLE t ADD COLUMN name ...".
func alterColumn(stmt string) string {
	fields := strings.Fields(stmt)
	for i, f := range fields {
		if strings.EqualFold(f, "COLUMN") && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// ImportLegacyIndex 将旧版 vault/index.json 导入到 SQLite
// ImportLegacyIndex seeds the store from a legacy vault index.json, whose format is
// {"<session id>": [mtime_seconds, file_size], ...}. Ids already in the store are
// left untouched. A missing index file is not an error.
func ImportLegacyIndex(ctx context.Context, vaultDir string, store *SQLiteStore) (int, error) {
	vaultDir = strings.TrimSpace(vaultDir)
	if vaultDir == "" {
		return 0, nil
	}

	indexPath := filepath.Join(vaultDir, "index.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read legacy index: %w", err)
	}

	var index map[string][2]int64
	if err := json.Unmarshal(data, &index); err != nil {
		return 0, fmt.Errorf("parse legacy index %s: %w", indexPath, err)
	}

	existing, err := store.SessionMtimes(ctx)
	if err != nil {
		return 0, err
	}

	var records []Record
	for id, entry := range index {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := existing[id]; ok {
			continue
		}
		rec := Record{MTime: entry[0] * 1000}
		rec.ID = id
		rec.Source = LegacySource
		rec.FileSize = entry[1]
		rec.VaultPath = findLegacyVaultFile(vaultDir, id)
		rec.OriginalPath = rec.VaultPath
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, nil
	}

	res, err := store.UpsertBatch(ctx, records)
	if err != nil {
		return 0, err
	}
	if err := store.LogSync(ctx, "import", fmt.Sprintf("legacy index: %d sessions", res.Inserted)); err != nil {
		slog.Warn("record legacy import failed", "err", err)
	}
	return res.Inserted, nil
}

// findLegacyVaultFile 在 vault/sessions 下查找 <id>.* 文件
func findLegacyVaultFile(vaultDir, id string) string {
	matches, err := filepath.Glob(filepath.Join(vaultDir, "sessions", id+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}
