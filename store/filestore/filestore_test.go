package filestore_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/store/filestore"
	"github.com/jrsteele09/go-auth-session/store/storetest"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, dir string) *filestore.Store {
	t.Helper()
	s, err := filestore.New(dir, "app")
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (store.Store, store.Store) {
		dir := t.TempDir()
		return open(t, dir), open(t, dir)
	})
}

func TestStore_DocumentLayout(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storetest.Tokens("1")))
	require.Equal(t, filepath.Join(dir, "app.json"), s.Path())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "access-1", doc["access_token"])
	require.Equal(t, "refresh-1", doc["refresh_token"])
	require.Equal(t, "id-1", doc["id_token"])
	require.Equal(t, s.Origin(), doc["origin"])

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")
}

func TestStore_ExternalDelete(t *testing.T) {
	dir := t.TempDir()
	a, b := open(t, dir), open(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Write(ctx, storetest.Tokens("1")))

	changes, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(a.Path()))
	change := storetest.NextOp(t, changes, store.OpClear)
	require.Empty(t, change.Origin)

	got, err := b.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	_, err := s.Read(context.Background())
	require.ErrorIs(t, err, store.ErrPersistence)
}

func TestStore_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)
	require.NoError(t, os.RemoveAll(dir))

	err := s.Write(context.Background(), storetest.Tokens("1"))
	require.ErrorIs(t, err, store.ErrPersistence)
}
