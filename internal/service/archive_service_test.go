package service

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbitdrive/internal/domain"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = content
	}
	return out
}

// Сценарий: поддиректория "A" с файлом x.txt на 5000 байт. Агрегаты
// первого прохода совпадают с тем, что реально уходит в тело.
func TestArchiveSingleFile(t *testing.T) {
	store := newTestStore(t)
	storage := newTestStorage(t)
	tree := NewTreeService(store)
	archive := NewArchiveService(store, storage)

	root, err := tree.EnsureRoot(testCtx(), testOwner)
	require.NoError(t, err)
	a, err := tree.CreateDirectory(testCtx(), root.ID, "A", testOwner)
	require.NoError(t, err)

	content := bytes.Repeat([]byte("q"), 5000)
	addFile(t, store, storage, a.ID, "x.txt", content)

	plan, err := archive.Stat(testCtx(), a.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.TotalFiles)
	assert.Equal(t, int64(5000), plan.TotalSize)
	assert.Equal(t, "A", plan.Name)

	var buf bytes.Buffer
	require.NoError(t, archive.Write(testCtx(), plan, &buf))

	entries := readZip(t, buf.Bytes())
	require.Contains(t, entries, "A/x.txt")
	assert.Equal(t, content, entries["A/x.txt"])
}

// Пустые директории сохраняют вложенность явными записями.
func TestArchiveKeepsEmptyDirectories(t *testing.T) {
	store := newTestStore(t)
	storage := newTestStorage(t)
	tree := NewTreeService(store)
	archive := NewArchiveService(store, storage)

	root, err := tree.EnsureRoot(testCtx(), testOwner)
	require.NoError(t, err)
	a, err := tree.CreateDirectory(testCtx(), root.ID, "a", testOwner)
	require.NoError(t, err)
	b, err := tree.CreateDirectory(testCtx(), a.ID, "b", testOwner)
	require.NoError(t, err)
	_, err = tree.CreateDirectory(testCtx(), b.ID, "empty", testOwner)
	require.NoError(t, err)
	addFile(t, store, storage, b.ID, "f.txt", []byte("f"))

	plan, err := archive.Stat(testCtx(), a.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.TotalFiles)
	assert.Equal(t, int64(1), plan.TotalSize)

	var buf bytes.Buffer
	require.NoError(t, archive.Write(testCtx(), plan, &buf))

	entries := readZip(t, buf.Bytes())
	assert.Contains(t, entries, "a/")
	assert.Contains(t, entries, "a/b/")
	assert.Contains(t, entries, "a/b/empty/")
	assert.Equal(t, []byte("f"), entries["a/b/f.txt"])
}

// Файл без блоба даёт нулевой вклад в агрегаты и пустую запись в архиве,
// не прерывая поток.
func TestArchiveMissingBlobCountsZero(t *testing.T) {
	store := newTestStore(t)
	storage := newTestStorage(t)
	tree := NewTreeService(store)
	archive := NewArchiveService(store, storage)

	root, err := tree.EnsureRoot(testCtx(), testOwner)
	require.NoError(t, err)
	a, err := tree.CreateDirectory(testCtx(), root.ID, "a", testOwner)
	require.NoError(t, err)
	addFile(t, store, storage, a.ID, "ghost.txt", nil) // блоба нет
	addFile(t, store, storage, a.ID, "real.txt", []byte("real"))

	plan, err := archive.Stat(testCtx(), a.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.TotalFiles)
	assert.Equal(t, int64(4), plan.TotalSize)

	var buf bytes.Buffer
	require.NoError(t, archive.Write(testCtx(), plan, &buf))

	entries := readZip(t, buf.Bytes())
	assert.Empty(t, entries["a/ghost.txt"])
	assert.Equal(t, []byte("real"), entries["a/real.txt"])
}

func TestArchiveStatErrors(t *testing.T) {
	store := newTestStore(t)
	tree := NewTreeService(store)
	archive := NewArchiveService(store, newTestStorage(t))

	root, err := tree.EnsureRoot(testCtx(), testOwner)
	require.NoError(t, err)

	_, err = archive.Stat(testCtx(), root.ID, "intruder")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

// Форма поддерева снимается один раз: мутация дерева между Stat и Write
// на содержимое архива не влияет.
func TestArchiveShapeIsolatedFromMutations(t *testing.T) {
	store := newTestStore(t)
	storage := newTestStorage(t)
	tree := NewTreeService(store)
	archive := NewArchiveService(store, storage)

	root, err := tree.EnsureRoot(testCtx(), testOwner)
	require.NoError(t, err)
	a, err := tree.CreateDirectory(testCtx(), root.ID, "a", testOwner)
	require.NoError(t, err)
	addFile(t, store, storage, a.ID, "x.txt", []byte("x"))

	plan, err := archive.Stat(testCtx(), a.ID, testOwner)
	require.NoError(t, err)

	// Между проходами в директорию добавляется новый файл
	addFile(t, store, storage, a.ID, "late.txt", []byte("late"))

	var buf bytes.Buffer
	require.NoError(t, archive.Write(testCtx(), plan, &buf))

	entries := readZip(t, buf.Bytes())
	assert.Contains(t, entries, "a/x.txt")
	assert.NotContains(t, entries, "a/late.txt")
}
