package security

import "sync"

// KnownPaths 上一次同步确认的会话文件集合（规范路径）
// KnownPaths is the set of canonical session file paths confirmed by the most
// recent sync cycle. Replace swaps the whole set at once, so readers see either
// the previous cycle's set or the new one, never a mix.
type KnownPaths struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

func NewKnownPaths() *KnownPaths {
	return &KnownPaths{paths: make(map[string]struct{})}
}

// Replace installs paths as the new set.
func (k *KnownPaths) Replace(paths []string) {
	next := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			next[p] = struct{}{}
		}
	}
	k.mu.Lock()
	k.paths = next
	k.mu.Unlock()
}

// Contains reports exact membership of a canonical path.
func (k *KnownPaths) Contains(canonical string) bool {
	k.mu.RLock()
	_, ok := k.paths[canonical]
	k.mu.RUnlock()
	return ok
}

func (k *KnownPaths) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.paths)
}
