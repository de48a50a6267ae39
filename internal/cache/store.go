package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理视频缓存目录的读写。磁盘布局遵循：
//
//	<Dir>/<md5(source)>.mp4    # 完整的视频正文
//
// 每个条目仅由正文文件组成，存在即代表已缓存。
type Store interface {
	// Dir 返回缓存目录的绝对路径。
	Dir() string

	// Exists 判断 key 对应的完整文件是否存在，目录不算命中。
	Exists(key string) bool

	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) (*ReadResult, error)

	// Write 将完整正文写入缓存。实现需通过临时文件 + rename 保证原子性，
	// 首次写入时按需创建缓存目录，失败时清理临时文件。
	Write(ctx context.Context, key string, body io.Reader) (*Entry, error)

	// Remove 删除正文文件，key 不存在时不视为错误。
	Remove(ctx context.Context, key string) error

	// Clear 删除整个缓存目录并重新创建空目录，与所有进行中的 Write 互斥。
	Clear(ctx context.Context) error
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Key       string `json:"key"`
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于 HTTP 层直接按 Range 输出。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey 表示 key 不是合法的单层文件名。
	ErrInvalidKey = errors.New("invalid cache key")
)
