package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbitdrive/internal/domain"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutAndOpen(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	content := []byte("hello blob")
	n, err := s.Put(ctx, "a.txt", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	obj, err := s.Open(ctx, "a.txt")
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(len(content)), obj.ContentLength())

	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutTruncatesExisting(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a.txt", bytes.NewReader([]byte("a long first version")))
	require.NoError(t, err)
	_, err = s.Put(ctx, "a.txt", bytes.NewReader([]byte("short")))
	require.NoError(t, err)

	size, err := s.Size(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestAppendExtends(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a.bin", bytes.NewReader([]byte("0123")))
	require.NoError(t, err)
	_, err = s.Append(ctx, "a.bin", bytes.NewReader([]byte("4567")))
	require.NoError(t, err)

	obj, err := s.Open(ctx, "a.bin")
	require.NoError(t, err)
	defer obj.Close()
	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, []byte("01234567"), got)
}

func TestOpenRange(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a.bin", bytes.NewReader([]byte("0123456789")))
	require.NoError(t, err)

	obj, err := s.OpenRange(ctx, "a.bin", 2, 5)
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(4), obj.ContentLength())

	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)
}

func TestOpenEmptyBlob(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "empty.bin", bytes.NewReader(nil))
	require.NoError(t, err)

	obj, err := s.Open(ctx, "empty.bin")
	require.NoError(t, err)
	defer obj.Close()

	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSizeMissing(t *testing.T) {
	s := newLocal(t)

	_, err := s.Size(context.Background(), "ghost.bin")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteTolerant(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a.bin", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a.bin"))
	// Повторное удаление не считается ошибкой
	require.NoError(t, s.Delete(ctx, "a.bin"))

	_, err = s.Size(ctx, "a.bin")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRejectsTraversalKeys(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", `a\b`, "..", "x..y"} {
		_, err := s.Put(ctx, key, bytes.NewReader([]byte("x")))
		assert.Error(t, err, "key %q", key)
	}
}

func TestWriteCancelledContext(t *testing.T) {
	s := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "a.bin", bytes.NewReader([]byte("data")))
	require.ErrorIs(t, err, domain.ErrIO)
	assert.Contains(t, err.Error(), "context canceled")
}
