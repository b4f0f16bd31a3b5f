package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// recordExt расширение файлов записей
const recordExt = ".rec"

// FileBackend хранит каждую запись отдельным файлом в каталоге.
// Запись идёт через временный файл и rename, поэтому читатель не видит половину записи.
type FileBackend struct {
	basePath string
	mu       sync.RWMutex
	closed   bool
}

// NewFileBackend открывает каталог записей, создавая его при необходимости
func NewFileBackend(basePath string) (*FileBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", basePath, err)
	}
	return &FileBackend{basePath: basePath}, nil
}

func (f *FileBackend) fileFor(key string) string {
	return filepath.Join(f.basePath, url.PathEscape(key)+recordExt)
}

func (f *FileBackend) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(f.basePath, ".tmp-*")
	if err != nil {
		return fmt.Errorf("запись %s: %w", key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("запись %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("запись %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.fileFor(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("запись %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	data, err := os.ReadFile(f.fileFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	err := os.Remove(f.fileFor(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	keys, _, err := f.scanLocked(prefix)
	return keys, err
}

// Usage возвращает суммарный размер ключей и значений
func (f *FileBackend) Usage(ctx context.Context) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, ErrClosed
	}
	_, total, err := f.scanLocked("")
	return total, err
}

func (f *FileBackend) scanLocked(prefix string) ([]string, int64, error) {
	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, 0, err
	}
	var (
		keys  []string
		total int64
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// файл удалён между ReadDir и Info
			continue
		}
		keys = append(keys, key)
		total += int64(len(key)) + info.Size()
	}
	sort.Strings(keys)
	return keys, total, nil
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
