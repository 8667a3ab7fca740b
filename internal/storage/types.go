package storage

import "sessionvault/internal/session"

// Record 持久化的会话行：元数据 + 修改时间
// Record is one persisted session row: metadata plus the modification time used for diffing
type Record struct {
	session.Metadata
	// MTime 源文件修改时间（毫秒）/ Source file modification time in epoch milliseconds
	MTime     int64  `json:"mtime"`
	MachineID string `json:"machine_id,omitempty"`
	// Missing 上次扫描未发现该会话 / Session was absent from the most recent scan
	Missing bool `json:"missing,omitempty"`
}

// BatchResult 批量写入结果 / Outcome of an UpsertBatch call
type BatchResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// ListOptions 列表过滤条件 / Filters for ListSessions
type ListOptions struct {
	Source         string
	Workspace      string
	Limit          int
	Offset         int
	IncludeMissing bool
}

// SyncLogEntry 同步日志条目 / One row of the sync log
type SyncLogEntry struct {
	MachineID string `json:"machine_id"`
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}

// Alias 与已存储会话 id 相同的另一个文件
// Alias is a file whose session id is already held by another path. The sync
// engine remembers it so an unchanged duplicate is not re-extracted every cycle.
type Alias struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	ID     string `json:"id"`
	MTime  int64  `json:"mtime"`
}
