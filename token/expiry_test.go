package token_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestExpiryOf(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("reads exp claim", func(t *testing.T) {
		got, err := token.ExpiryOf(signedToken(t, jwt.MapClaims{"sub": "user-1", "exp": exp.Unix()}))
		require.NoError(t, err)
		require.True(t, exp.Equal(got))
	})

	t.Run("ignores signature", func(t *testing.T) {
		raw := signedToken(t, jwt.MapClaims{"exp": exp.Unix()})
		got, err := token.ExpiryOf(raw[:len(raw)-4] + "AAAA")
		require.NoError(t, err)
		require.True(t, exp.Equal(got))
	})

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "nonsense", token: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{name: "missing exp", token: signedToken(t, jwt.MapClaims{"sub": "user-1"})},
		{name: "string exp", token: signedToken(t, jwt.MapClaims{"exp": "tomorrow"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := token.ExpiryOf(tt.token)
			require.Error(t, err)
			require.True(t, errors.Is(err, token.ErrMalformedToken))

			var malformed *token.MalformedTokenError
			require.ErrorAs(t, err, &malformed)
		})
	}
}

func TestExpiryClock_IsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clocktesting.NewFakePassiveClock(now)
	c := token.ExpiryClock{Lead: 30 * time.Second, Clock: fake}

	fresh := signedToken(t, jwt.MapClaims{"exp": now.Add(10 * time.Minute).Unix()})
	inLead := signedToken(t, jwt.MapClaims{"exp": now.Add(20 * time.Second).Unix()})
	boundary := signedToken(t, jwt.MapClaims{"exp": now.Add(30 * time.Second).Unix()})
	expired := signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Second).Unix()})

	require.False(t, c.IsStale(fresh))
	require.True(t, c.IsStale(inLead))
	require.True(t, c.IsStale(boundary), "now == exp - lead is stale")
	require.True(t, c.IsStale(expired))
	require.True(t, c.IsStale("not-a-jwt"), "malformed tokens are stale")

	renewAt, err := c.RenewAt(fresh)
	require.NoError(t, err)
	require.True(t, now.Add(10*time.Minute-30*time.Second).Equal(renewAt))

	until, err := c.Until(fresh)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute-30*time.Second, until)

	until, err = c.Until(expired)
	require.NoError(t, err)
	require.Zero(t, until)

	fake.SetTime(now.Add(9*time.Minute + 31*time.Second))
	require.True(t, c.IsStale(fresh))
}

func TestNewExpiryClock_DefaultLead(t *testing.T) {
	require.Equal(t, token.DefaultRenewalLeadTime, token.NewExpiryClock(0).Lead)
	require.Equal(t, time.Minute, token.NewExpiryClock(time.Minute).Lead)
}

func TestSet(t *testing.T) {
	full := token.Set{AccessToken: "a", RefreshToken: "r", IDToken: "i"}
	require.True(t, full.Complete())
	require.NoError(t, full.Validate())

	partial := token.Set{AccessToken: "a", RefreshToken: "r"}
	require.False(t, partial.Complete())
	require.ErrorIs(t, partial.Validate(), token.ErrIncompleteTokenSet)

	merged := token.Set{AccessToken: "a2"}.Merge(full)
	require.Equal(t, token.Set{AccessToken: "a2", RefreshToken: "r", IDToken: "i"}, merged)

	rotated := token.Set{AccessToken: "a2", RefreshToken: "r2", IDToken: "i2"}.Merge(full)
	require.Equal(t, "r2", rotated.RefreshToken)
	require.Equal(t, "i2", rotated.IDToken)
	require.True(t, full.Equal(token.Set{AccessToken: "a", RefreshToken: "r", IDToken: "i"}))
}
