package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/store/redisstore"
	"github.com/jrsteele09/go-auth-session/store/storetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (store.Store, store.Store) {
		_, client := newClient(t)
		return redisstore.New(client, "app"), redisstore.New(client, "app")
	})
}

func TestStore_KeyLayout(t *testing.T) {
	mr, client := newClient(t)
	s := redisstore.New(client, "app")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storetest.Tokens("1")))
	mr.CheckGet(t, "app:access_token", "access-1")
	mr.CheckGet(t, "app:refresh_token", "refresh-1")
	mr.CheckGet(t, "app:id_token", "id-1")

	require.NoError(t, s.Clear(ctx))
	require.False(t, mr.Exists("app:access_token"))
	require.False(t, mr.Exists("app:refresh_token"))
	require.False(t, mr.Exists("app:id_token"))
}

func TestStore_DefaultNamespace(t *testing.T) {
	mr, client := newClient(t)
	s := redisstore.New(client, "")

	require.NoError(t, s.Write(context.Background(), storetest.Tokens("1")))
	mr.CheckGet(t, "auth:access_token", "access-1")
}

func TestStore_PartialKeysReadAsAbsent(t *testing.T) {
	mr, client := newClient(t)
	s := redisstore.New(client, "app")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storetest.Tokens("1")))
	mr.Del("app:refresh_token")

	got, err := s.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	_, client := newClient(t)
	a := redisstore.New(client, "one")
	b := redisstore.New(client, "two")
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, storetest.Tokens("1")))
	got, err := b.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_ServerDown(t *testing.T) {
	mr, client := newClient(t)
	s := redisstore.New(client, "app")
	ctx := context.Background()
	mr.Close()

	err := s.Write(ctx, storetest.Tokens("1"))
	require.ErrorIs(t, err, store.ErrPersistence)

	_, err = s.Read(ctx)
	require.ErrorIs(t, err, store.ErrPersistence)

	require.ErrorIs(t, s.Clear(ctx), store.ErrPersistence)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := redisstore.Dial(context.Background(), "redis://"+mr.Addr(), "app")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NotEmpty(t, s.Origin())

	_, err = redisstore.Dial(context.Background(), "not a url", "app")
	require.Error(t, err)
}
