// Package memcache 提供内存索引：资源 key → 已落盘的本地文件路径。
// 采用严格 LRU，按条目数限流；被淘汰的条目只是从索引中移除，磁盘文件保持不变。
package memcache

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity 与默认配置一致，最多保留 20 个条目。
const DefaultCapacity = 20

// ErrInvalidCapacity 表示容量必须大于 0。
var ErrInvalidCapacity = errors.New("memory index capacity must be > 0")

// Index 是线程安全的 LRU 索引，所有操作均为单次加锁粒度。
type Index struct {
	entries *lru.Cache[string, string]
}

// New 以给定容量创建索引。
func New(capacity int) (*Index, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	entries, err := lru.New[string, string](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Index{entries: entries}, nil
}

// Get 返回 key 对应的文件路径，并将其标记为最近使用。空 key 永远不命中。
func (i *Index) Get(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	return i.entries.Get(key)
}

// Put 写入条目；空 key 表示调用方跳过缓存，直接忽略。
func (i *Index) Put(key, path string) {
	if key == "" || path == "" {
		return
	}
	i.entries.Add(key, path)
}

// Clear 清空全部条目。
func (i *Index) Clear() {
	i.entries.Purge()
}

// Resize 调整容量，超出部分按 LRU 顺序淘汰，返回被淘汰的条目数。
func (i *Index) Resize(capacity int) (int, error) {
	if capacity <= 0 {
		return 0, ErrInvalidCapacity
	}
	return i.entries.Resize(capacity), nil
}

// Len 返回当前条目数。
func (i *Index) Len() int {
	return i.entries.Len()
}
