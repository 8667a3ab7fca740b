package storage

import "context"

// Store 会话元数据持久化接口
// Store is the persistence interface for session metadata
type Store interface {
	// 同步操作 / Sync operations
	UpsertBatch(ctx context.Context, records []Record) (BatchResult, error)
	SessionMtimes(ctx context.Context) (map[string]int64, error)
	Index(ctx context.Context) (map[string]Record, error)
	MarkMissing(ctx context.Context, ids []string, missing bool) (int, error)
	PruneMissing(ctx context.Context) ([]string, error)
	Aliases(ctx context.Context) (map[string]Alias, error)
	ReplaceAliases(ctx context.Context, aliases []Alias) error

	// 查询 / Queries
	Get(ctx context.Context, id string) (Record, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]Record, error)
	SearchTitles(ctx context.Context, query string, limit int) ([]Record, error)
	Count(ctx context.Context) (int, error)

	// 同步日志 / Sync log
	LogSync(ctx context.Context, action, details string) error

	// 生命周期 / Lifecycle
	Close() error
}
