package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantSignal identity.InvalidationSignal
		wantQuery  string
	}{
		{
			name:       "user deleted",
			body:       `{"data":{"myAuth":null},"errors":[{"message":"Login as deleted user","extensions":{"reason":"user_deleted"}}]}`,
			wantSignal: identity.SignalUserDeleted,
		},
		{
			name:       "token validation",
			body:       `{"errors":[{"message":"Mock token validation message","extensions":{"reason":"token_validation"}}]}`,
			wantSignal: identity.SignalTokenValidation,
		},
		{
			name:       "invalidation wins over earlier errors",
			body:       `{"errors":[{"message":"boom","extensions":{"reason":"internal"}},{"message":"gone","extensions":{"reason":"user_deleted"}}]}`,
			wantSignal: identity.SignalUserDeleted,
		},
		{
			name:      "other reason",
			body:      `{"errors":[{"message":"boom","extensions":{"reason":"internal"}}]}`,
			wantQuery: "internal",
		},
		{
			name:      "not json",
			body:      `<html>`,
			wantQuery: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identity.DecodeResponse([]byte(tt.body), nil)
			require.Error(t, err)

			if tt.wantSignal != 0 {
				var invalid *identity.InvalidationError
				require.ErrorAs(t, err, &invalid)
				require.Equal(t, tt.wantSignal, invalid.Signal)
				require.ErrorIs(t, err, identity.ErrInvalidated)
				return
			}

			var queryErr *identity.QueryError
			require.ErrorAs(t, err, &queryErr)
			require.Equal(t, tt.wantQuery, queryErr.Reason)
			require.ErrorIs(t, err, identity.ErrQuery)
			require.NotErrorIs(t, err, identity.ErrInvalidated)
		})
	}

	t.Run("decodes data", func(t *testing.T) {
		var data struct {
			MyAuth identity.Principal `json:"myAuth"`
		}
		err := identity.DecodeResponse([]byte(`{"data":{"myAuth":{"id":"u1","email":"a@b.c"}}}`), &data)
		require.NoError(t, err)
		require.Equal(t, identity.Principal{ID: "u1", Email: "a@b.c"}, data.MyAuth)
	})
}

func TestParseSignal(t *testing.T) {
	signal, ok := identity.ParseSignal("user_deleted")
	require.True(t, ok)
	require.Equal(t, "user_deleted", signal.String())

	signal, ok = identity.ParseSignal("token_validation")
	require.True(t, ok)
	require.Equal(t, "token_validation", signal.String())

	_, ok = identity.ParseSignal("something_else")
	require.False(t, ok)
}

func TestClient_Check(t *testing.T) {
	var (
		reply  string
		status = http.StatusOK
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, identity.OperationName, body["operationName"])
		require.Contains(t, body["query"], "myAuth")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	defer srv.Close()

	client := identity.NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	t.Run("principal", func(t *testing.T) {
		reply, status = `{"data":{"myAuth":{"id":"u1","email":"a@b.c"}}}`, http.StatusOK
		p, err := client.Check(ctx)
		require.NoError(t, err)
		require.Equal(t, "u1", p.ID)
		require.Equal(t, "a@b.c", p.Email)
	})

	t.Run("user deleted", func(t *testing.T) {
		reply, status = `{"data":{"myAuth":null},"errors":[{"message":"deleted","extensions":{"reason":"user_deleted"}}]}`, http.StatusOK
		_, err := client.Check(ctx)
		var invalid *identity.InvalidationError
		require.ErrorAs(t, err, &invalid)
		require.Equal(t, identity.SignalUserDeleted, invalid.Signal)
	})

	t.Run("server error", func(t *testing.T) {
		reply, status = `oops`, http.StatusBadGateway
		_, err := client.Check(ctx)
		var queryErr *identity.QueryError
		require.ErrorAs(t, err, &queryErr)
		require.Equal(t, http.StatusBadGateway, queryErr.StatusCode)
	})

	t.Run("missing principal", func(t *testing.T) {
		reply, status = `{"data":{"myAuth":null}}`, http.StatusOK
		_, err := client.Check(ctx)
		require.ErrorIs(t, err, identity.ErrQuery)
	})
}
