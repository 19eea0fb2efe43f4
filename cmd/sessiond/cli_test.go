package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/idp/idptest"
	"github.com/jrsteele09/go-auth-session/internal/config"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/store/filestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := createRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestStatusAndLogout_FileBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.StoreBackendEnvVar, "")
	t.Setenv(config.StoreDirEnvVar, "")
	t.Setenv(config.NamespaceEnvVar, "")

	st, err := filestore.New(dir, "tabs")
	require.NoError(t, err)
	tokens, err := idptest.New().Login("user-1")
	require.NoError(t, err)
	require.NoError(t, st.Write(context.Background(), tokens))

	args := []string{"--store", config.BackendFile, "--store-dir", dir, "--namespace", "tabs"}

	out := execute(t, append([]string{"status"}, args...)...)
	require.Contains(t, out, "tabs")
	require.Contains(t, out, "present")
	require.Contains(t, out, "fresh")

	out = execute(t, append([]string{"logout"}, args...)...)
	require.Contains(t, out, `Cleared namespace "tabs" (file)`)

	read, err := st.Read(context.Background())
	require.NoError(t, err)
	require.Nil(t, read)

	out = execute(t, append([]string{"status"}, args...)...)
	require.Contains(t, out, "none")
}

func TestStatusAndLogout_MemoryBackend(t *testing.T) {
	t.Setenv(config.StoreBackendEnvVar, "")
	for _, name := range []string{"status", "logout"} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := createRootCmd()
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs([]string{name, "--store", config.BackendMemory})

			err := cmd.ExecuteContext(context.Background())
			require.ErrorIs(t, err, apperrors.ErrUnsupported)
			require.NotContains(t, out.String(), "Cleared namespace")
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv(config.StoreBackendEnvVar, config.BackendRedis)
		t.Setenv(config.RedisURLEnvVar, "redis://"+mr.Addr()+"/0")

		st, release, err := openStore(ctx, config.New(), zerolog.Nop())
		require.NoError(t, err)
		defer release()
		require.NotEmpty(t, st.Origin())
	})

	t.Run("memory", func(t *testing.T) {
		t.Setenv(config.StoreBackendEnvVar, config.BackendMemory)
		st, release, err := openStore(ctx, config.New(), zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, release())

		read, err := st.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, read)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv(config.StoreBackendEnvVar, "sqlite")
		_, _, err := openStore(ctx, config.New(), zerolog.Nop())
		require.ErrorIs(t, err, apperrors.ErrUnsupported)
	})
}

func TestNewAgent_Discovery(t *testing.T) {
	provider := idptest.New()
	srv := idptest.NewServer(t, provider)

	t.Setenv(config.StoreBackendEnvVar, config.BackendMemory)
	t.Setenv(config.IssuerEnvVar, srv.URL)
	t.Setenv(config.ClientIDEnvVar, provider.ClientID())
	t.Setenv(config.APIURLEnvVar, "")
	t.Setenv(config.IdentityURLEnvVar, "")

	a, err := newAgent(context.Background(), config.New(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	t.Run("issuer without client id", func(t *testing.T) {
		t.Setenv(config.ClientIDEnvVar, "")
		_, err := newAgent(context.Background(), config.New(), zerolog.Nop())
		require.ErrorIs(t, err, apperrors.ErrNotConfigured)
	})
}
