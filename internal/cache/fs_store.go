package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const filePrefix = "vap_cache_"

// NewStore 以 root 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(root string) (Store, error) {
	if root == "" {
		return nil, errors.New("cache directory required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &fileStore{
		root:  abs,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一 sourceKey 的 Put 与 Commit，读路径不加锁。
type fileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.root
}

func (s *fileStore) Lookup(ctx context.Context, sourceKey string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sourceKey == "" {
		return nil, ErrNotFound
	}

	for _, ext := range knownExtensions {
		filePath := s.finalPath(sourceKey, ext)
		info, err := os.Stat(filePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if info.IsDir() {
			continue
		}

		f, err := os.Open(filePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		// the open descriptor pins the inode; re-stat so size matches what is read
		if opened, statErr := f.Stat(); statErr == nil {
			info = opened
		}

		return &ReadResult{
			Entry: Entry{
				SourceKey: sourceKey,
				Extension: ext,
				FilePath:  filePath,
				SizeBytes: info.Size(),
				ModTime:   info.ModTime(),
			},
			Reader: f,
		}, nil
	}
	return nil, ErrNotFound
}

func (s *fileStore) BeginWrite(ctx context.Context, sourceKey string, ext Extension) (*PendingWrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sourceKey == "" {
		return nil, errors.New("source key required")
	}
	if ext == "" {
		ext = ExtensionMP4
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, err
	}
	tempFile, err := os.CreateTemp(s.root, entryBase(sourceKey)+"-*"+ext.TempSuffix())
	if err != nil {
		return nil, err
	}

	return &PendingWrite{
		store:     s,
		sourceKey: sourceKey,
		ext:       ext,
		finalPath: s.finalPath(sourceKey, ext),
		file:      tempFile,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, sourceKey string, ext Extension, body io.Reader) (*Entry, error) {
	unlock := s.lockEntry(sourceKey)
	defer unlock()

	w, err := s.BeginWrite(ctx, sourceKey, ext)
	if err != nil {
		return nil, err
	}

	if _, err := CopyWithContext(ctx, w, body); err != nil {
		_ = w.Abort()
		return nil, err
	}
	return w.commitLocked()
}

// removeStale 删除 sourceKey 在其他后缀下的已提交文件，调用方需持有 entry 锁。
func (s *fileStore) removeStale(sourceKey string, keep Extension) error {
	var errs []error
	for _, ext := range knownExtensions {
		if ext == keep {
			continue
		}
		if err := os.Remove(s.finalPath(sourceKey, ext)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) lockEntry(sourceKey string) func() {
	s.mu.Lock()
	lock := s.locks[sourceKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[sourceKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, sourceKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) finalPath(sourceKey string, ext Extension) string {
	return filepath.Join(s.root, entryBase(sourceKey)+string(ext))
}

// entryBase 对 sourceKey 做 sha1，避免 URL 中的特殊字符落到文件名里，
// 同时保证不同 URL 不会因字符清洗而碰撞。
func entryBase(sourceKey string) string {
	sum := sha1.Sum([]byte(sourceKey))
	return filePrefix + hex.EncodeToString(sum[:])
}

// PendingWrite 是一次进行中的写入。Commit 通过 rename 原子发布，之前的已提交版本
// 对并发读者保持可见直至 rename 完成。
type PendingWrite struct {
	store     *fileStore
	sourceKey string
	ext       Extension
	finalPath string
	file      *os.File
	written   int64
	finished  bool
}

// Write 向临时文件追加数据。
func (w *PendingWrite) Write(p []byte) (int, error) {
	if w.finished {
		return 0, ErrWriteFinished
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// TempPath 返回临时文件路径，仅用于诊断。
func (w *PendingWrite) TempPath() string {
	return w.file.Name()
}

// Commit 关闭临时文件并 rename 到最终文件名，使其对 Lookup 可见。同一 sourceKey
// 在其他后缀下的旧条目随之删除，后续 Lookup 只会看到本次提交。
func (w *PendingWrite) Commit() (*Entry, error) {
	if w.finished {
		return nil, ErrWriteFinished
	}
	unlock := w.store.lockEntry(w.sourceKey)
	defer unlock()
	return w.commitLocked()
}

func (w *PendingWrite) commitLocked() (*Entry, error) {
	if w.finished {
		return nil, ErrWriteFinished
	}
	w.finished = true

	tempName := w.file.Name()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(tempName)
		return nil, err
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tempName)
		return nil, err
	}
	if err := os.Rename(tempName, w.finalPath); err != nil {
		os.Remove(tempName)
		return nil, err
	}
	if err := w.store.removeStale(w.sourceKey, w.ext); err != nil {
		return nil, fmt.Errorf("remove stale entry: %w", err)
	}

	info, err := os.Stat(w.finalPath)
	if err != nil {
		return nil, err
	}
	return &Entry{
		SourceKey: w.sourceKey,
		Extension: w.ext,
		FilePath:  w.finalPath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

// Abort 丢弃临时文件；已结束的写入重复调用返回 nil。
func (w *PendingWrite) Abort() error {
	if w.finished {
		return nil
	}
	w.finished = true
	tempName := w.file.Name()
	closeErr := w.file.Close()
	if err := os.Remove(tempName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return closeErr
}

// CopyWithContext 按 32KiB 分块拷贝，每块之前检查 ctx，适合长时间的下载流。
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
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
