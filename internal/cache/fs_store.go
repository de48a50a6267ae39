package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStore 以 dir 为缓存目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &fileStore{
		dir:   abs,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入；clearMu 让 Write 共享、Clear 独占。
type fileStore struct {
	dir string

	clearMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Dir() string {
	return s.dir
}

func (s *fileStore) Exists(key string) bool {
	filePath, err := s.entryPath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func (s *fileStore) Get(ctx context.Context, key string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry: Entry{
			Key:       key,
			FilePath:  filePath,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Write(ctx context.Context, key string, body io.Reader) (*Entry, error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	return &Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   time.Now().UTC(),
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove cache directory: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("recreate cache directory: %w", err)
	}
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 只允许单层文件名，拒绝任何可能逃逸缓存目录的 key。
func (s *fileStore) entryPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", ErrInvalidKey
	}
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".cache-") {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
