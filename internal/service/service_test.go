package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"orbitdrive/internal/blob"
	"orbitdrive/internal/metastore"
)

const testOwner = "user1"

func newTestStore(t *testing.T) *metastore.Store {
	t.Helper()
	store, err := metastore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestStorage(t *testing.T) *blob.LocalStorage {
	t.Helper()
	storage, err := blob.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return storage
}

func testCtx() context.Context {
	return context.Background()
}
