package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryLocation 打开内存数据库的特殊位置（测试用）
// MemoryLocation opens an ephemeral in-memory store, used by tests
const MemoryLocation = ":memory:"

// SQLiteStore 基于 SQLite (WAL 模式) 的会话元数据存储
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open 打开或创建元数据库；location 为 MemoryLocation 时使用内存库
// Open opens or creates the metadata store at location. MemoryLocation yields an
// in-memory store. Failures carry ErrIO or ErrFormat.
func Open(location string) (*SQLiteStore, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("open store: %w: db path is empty", ErrIO)
	}
	memory := location == MemoryLocation
	if !memory {
		if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
			return nil, ioErr("create db directory", err)
		}
		if info, err := os.Stat(location); err == nil && info.IsDir() {
			return nil, fmt.Errorf("open store: %w: %s is a directory", ErrIO, location)
		}
	}

	db, err := sql.Open("sqlite", location)
	if err != nil {
		return nil, ioErr("open sqlite", err)
	}
	// 单写者：一个连接串行化所有写入 / Single writer: one connection serialises all writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, ioErr(fmt.Sprintf("exec %q", p), err)
		}
	}

	store := &SQLiteStore{db: db, path: location}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenMemory 打开内存库 / Opens an ephemeral in-memory store
func OpenMemory() (*SQLiteStore, error) {
	return Open(MemoryLocation)
}

// Path 返回数据库位置 / Path returns the store location
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Sync Operations ---

// UpsertBatch 在一个事务中插入或覆盖所有记录；失败时全部回滚
// UpsertBatch inserts or overwrites every record keyed by id inside one transaction.
// Either all records land or none do. Re-applying the same batch leaves the same
// observable state.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, records []Record) (BatchResult, error) {
	var result BatchResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, ioErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tx.PrepareContext(ctx, "SELECT 1 FROM sessions WHERE id=?")
	if err != nil {
		return result, ioErr("prepare lookup", err)
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (id, source, machine_id, mtime, file_size, last_synced, title,
			workspace_name, ide_origin, created_at, vault_path, original_path, missing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, machine_id=excluded.machine_id, mtime=excluded.mtime,
			file_size=excluded.file_size, last_synced=excluded.last_synced, title=excluded.title,
			workspace_name=excluded.workspace_name, ide_origin=excluded.ide_origin,
			created_at=excluded.created_at, vault_path=excluded.vault_path,
			original_path=excluded.original_path, missing=0`)
	if err != nil {
		return result, ioErr("prepare upsert", err)
	}
	defer upsert.Close()

	now := time.Now().UTC().Unix()
	for i, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			return BatchResult{}, fmt.Errorf("upsert record %d: session id is empty", i)
		}
		var one int
		switch err := exists.QueryRowContext(ctx, rec.ID).Scan(&one); {
		case errors.Is(err, sql.ErrNoRows):
			result.Inserted++
		case err != nil:
			return BatchResult{}, ioErr("lookup session", err)
		default:
			result.Updated++
		}
		machine := rec.MachineID
		if machine == "" {
			machine = MachineID()
		}
		if _, err := upsert.ExecContext(ctx,
			rec.ID, rec.Source, machine, rec.MTime, rec.FileSize, now,
			nullString(rec.Title), nullString(rec.WorkspaceName), nullString(rec.IDEOrigin),
			formatTime(rec.CreatedAt), rec.VaultPath, rec.OriginalPath,
		); err != nil {
			return BatchResult{}, ioErr(fmt.Sprintf("upsert session %s", rec.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, ioErr("commit batch", err)
	}
	return result, nil
}

// SessionMtimes 返回 id -> 最后记录的修改时间
// SessionMtimes returns the full id -> last recorded modification time mapping.
// The result is read in one statement, so it is a consistent snapshot.
func (s *SQLiteStore) SessionMtimes(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, mtime FROM sessions")
	if err != nil {
		return nil, ioErr("query mtimes", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var mtime int64
		if err := rows.Scan(&id, &mtime); err != nil {
			return nil, ioErr("scan mtime", err)
		}
		out[id] = mtime
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate mtimes", err)
	}
	return out, nil
}

// Index 返回全部记录（按 id），供同步引擎每轮读取一次
// Index returns every stored record keyed by id. The sync engine reads it once per cycle.
func (s *SQLiteStore) Index(ctx context.Context) (map[string]Record, error) {
	records, err := s.query(ctx, "SELECT "+recordColumns+" FROM sessions")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(records))
	for _, rec := range records {
		out[rec.ID] = rec
	}
	return out, nil
}

// MarkMissing 设置或清除 missing 标记 / Sets or clears the missing marker on ids
func (s *SQLiteStore) MarkMissing(ctx context.Context, ids []string, missing bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "UPDATE sessions SET missing=? WHERE id=? AND missing<>?")
	if err != nil {
		return 0, ioErr("prepare mark", err)
	}
	defer stmt.Close()

	flag := boolToInt(missing)
	changed := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, flag, id, flag)
		if err != nil {
			return 0, ioErr(fmt.Sprintf("mark session %s", id), err)
		}
		n, _ := res.RowsAffected()
		changed += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, ioErr("commit mark", err)
	}
	return changed, nil
}

// Aliases 返回 path -> 重复 id 文件记录
// Aliases returns the duplicate-id files recorded by the last sync, keyed by path.
func (s *SQLiteStore) Aliases(ctx context.Context) (map[string]Alias, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, source, id, mtime FROM session_aliases")
	if err != nil {
		return nil, ioErr("query aliases", err)
	}
	defer rows.Close()

	out := make(map[string]Alias)
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.Path, &a.Source, &a.ID, &a.MTime); err != nil {
			return nil, ioErr("scan alias", err)
		}
		out[a.Path] = a
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate aliases", err)
	}
	return out, nil
}

// ReplaceAliases 用 aliases 整体替换别名表 / Swaps the whole alias table for aliases in one transaction
func (s *SQLiteStore) ReplaceAliases(ctx context.Context, aliases []Alias) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_aliases"); err != nil {
		return ioErr("clear aliases", err)
	}
	if len(aliases) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO session_aliases (path, source, id, mtime) VALUES (?, ?, ?, ?)")
		if err != nil {
			return ioErr("prepare alias insert", err)
		}
		defer stmt.Close()
		for _, a := range aliases {
			if _, err := stmt.ExecContext(ctx, a.Path, a.Source, a.ID, a.MTime); err != nil {
				return ioErr(fmt.Sprintf("insert alias %s", a.Path), err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return ioErr("commit aliases", err)
	}
	return nil
}

// PruneMissing 删除所有标记为 missing 的会话，返回被删除的 id
// PruneMissing deletes every session currently marked missing and returns their ids.
func (s *SQLiteStore) PruneMissing(ctx context.Context) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ioErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM sessions WHERE missing=1 ORDER BY id")
	if err != nil {
		return nil, ioErr("query missing", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, ioErr("scan missing", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate missing", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE missing=1"); err != nil {
		return nil, ioErr("delete missing", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, ioErr("commit prune", err)
	}
	return ids, nil
}

// --- Queries ---

const recordColumns = `id, source, machine_id, mtime, file_size, title, workspace_name,
	ide_origin, created_at, vault_path, original_path, missing`

// Get 按 id 读取一条记录 / Loads one record by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, fmt.Errorf("session id is empty")
	}
	records, err := s.query(ctx, "SELECT "+recordColumns+" FROM sessions WHERE id=?", id)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[0], nil
}

// ListSessions 按创建时间倒序列出会话 / Lists sessions newest first
func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(opts.Source); v != "" {
		where = append(where, "source=?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(opts.Workspace); v != "" {
		where = append(where, "workspace_name=?")
		args = append(args, v)
	}
	if !opts.IncludeMissing {
		where = append(where, "missing=0")
	}
	q := "SELECT " + recordColumns + " FROM sessions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY COALESCE(created_at, '') DESC, mtime DESC, id"
	if opts.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, max(opts.Offset, 0))
	}
	return s.query(ctx, q, args...)
}

// SearchTitles 按标题/工作区关键字搜索 / Keyword search over title and workspace name
func (s *SQLiteStore) SearchTitles(ctx context.Context, query string, limit int) ([]Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.query(ctx, "SELECT "+recordColumns+` FROM sessions
		WHERE missing=0 AND (title LIKE ? ESCAPE '\' OR workspace_name LIKE ? ESCAPE '\')
		ORDER BY COALESCE(created_at, '') DESC, id LIMIT ?`, pattern, pattern, limit)
}

// Count 会话总数 / Total number of stored sessions
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, ioErr("count sessions", err)
	}
	return n, nil
}

// CountBySource 每个来源的会话数 / Number of sessions per source
func (s *SQLiteStore) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, COUNT(*) FROM sessions GROUP BY source")
	if err != nil {
		return nil, ioErr("count by source", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, ioErr("scan count", err)
		}
		out[source] = n
	}
	return out, rows.Err()
}

// --- Sync Log ---

// LogSync 记录一次同步动作 / Appends one sync action to the log
func (s *SQLiteStore) LogSync(ctx context.Context, action, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (machine_id, timestamp, action, details) VALUES (?, ?, ?, ?)`,
		MachineID(), time.Now().UTC().Unix(), action, details)
	if err != nil {
		return ioErr("log sync", err)
	}
	return nil
}

// RecentSyncLog 最近的同步日志 / Most recent sync log entries, newest first
func (s *SQLiteStore) RecentSyncLog(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT machine_id, timestamp, action, COALESCE(details, '')
		FROM sync_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ioErr("query sync log", err)
	}
	defer rows.Close()
	var out []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(&e.MachineID, &e.Timestamp, &e.Action, &e.Details); err != nil {
			return nil, ioErr("scan sync log", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Helpers ---

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ioErr("query sessions", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, ioErr("scan session", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate sessions", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                              Record
		title, workspace, ide, createdAt sql.NullString
		missing                          int
	)
	err := rows.Scan(&rec.ID, &rec.Source, &rec.MachineID, &rec.MTime, &rec.FileSize,
		&title, &workspace, &ide, &createdAt, &rec.VaultPath, &rec.OriginalPath, &missing)
	if err != nil {
		return Record{}, err
	}
	rec.Title = title.String
	rec.WorkspaceName = workspace.String
	rec.IDEOrigin = ide.String
	rec.CreatedAt = parseTime(createdAt.String)
	rec.Missing = missing != 0
	return rec, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(v string) *time.Time {
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

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
