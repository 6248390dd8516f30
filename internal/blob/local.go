package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"orbitdrive/internal/domain"
)

// LocalStorage хранит блобы файлами на диске: <dir>/<id><extension>.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Put создаёт блоб с нуля, усекая прежний частичный с тем же ключом.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	return s.write(ctx, key, r, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// Append дозаписывает данные в конец существующего блоба.
func (s *LocalStorage) Append(ctx context.Context, key string, r io.Reader) (int64, error) {
	return s.write(ctx, key, r, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func (s *LocalStorage) write(ctx context.Context, key string, r io.Reader, flags int) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(s.path(key), flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open blob %s: %v", domain.ErrIO, key, err)
	}

	written, err := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		return written, fmt.Errorf("%w: failed to write blob %s: %v", domain.ErrIO, key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return written, fmt.Errorf("%w: failed to sync blob %s: %v", domain.ErrIO, key, err)
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("%w: failed to close blob %s: %v", domain.ErrIO, key, err)
	}
	return written, nil
}

// Complete - no-op: данные уже на диске и синхронизированы.
func (s *LocalStorage) Complete(ctx context.Context, key string) error {
	return validateKey(key)
}

func (s *LocalStorage) Open(ctx context.Context, key string) (Object, error) {
	size, err := s.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return &object{ReadCloser: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return s.OpenRange(ctx, key, 0, size-1)
}

// OpenRange читает срез [start, end] включительно.
func (s *LocalStorage) OpenRange(ctx context.Context, key string, start, end int64) (Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: bytes %d-%d", domain.ErrRangeNotSatisfiable, start, end)
	}

	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open blob %s: %v", domain.ErrIO, key, err)
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: failed to seek blob %s: %v", domain.ErrIO, key, err)
	}

	length := end - start + 1
	return &object{
		ReadCloser:    &limitedFile{f: f, r: io.LimitReader(f, length)},
		contentLength: length,
	}, nil
}

type limitedFile struct {
	f *os.File
	r io.Reader
}

func (l *limitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFile) Close() error               { return l.f.Close() }

func (s *LocalStorage) Size(ctx context.Context, key string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to stat blob %s: %v", domain.ErrIO, key, err)
	}
	return info.Size(), nil
}

// Delete удаляет блоб. Отсутствующий блоб считается успешно удалённым.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete blob %s: %v", domain.ErrIO, key, err)
	}
	return nil
}

// contextReader прерывает копирование при отмене контекста, чтобы
// оборванная загрузка не держала writer дольше необходимого.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
