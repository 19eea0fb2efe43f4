package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"k8s.io/utils/clock"
)

// DefaultRenewalLeadTime is how long before hard expiry a token is considered stale.
const DefaultRenewalLeadTime = 30 * time.Second

// ErrMalformedToken is the sentinel matched by every MalformedTokenError.
var ErrMalformedToken = errors.New("malformed token")

// MalformedTokenError reports an access token whose expiry claim cannot be decoded.
type MalformedTokenError struct {
	Reason string
	Err    error
}

func (e *MalformedTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedToken.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedToken.Error(), e.Reason)
}

func (e *MalformedTokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedToken}
	}
	return []error{ErrMalformedToken, e.Err}
}

// ExpiryOf decodes the "exp" claim of an access token. The signature is not verified; the
// resource server does that. Only the expiry instant is needed to schedule renewal.
func ExpiryOf(accessToken string) (time.Time, error) {
	if accessToken == "" {
		return time.Time{}, &MalformedTokenError{Reason: "empty token"}
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, &MalformedTokenError{Reason: "unparsable token", Err: err}
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, &MalformedTokenError{Reason: "invalid exp claim", Err: err}
	}
	if exp == nil {
		return time.Time{}, &MalformedTokenError{Reason: "missing exp claim"}
	}
	return exp.Time, nil
}

// ExpiryClock applies the renewal policy: a token is stale once now >= exp - Lead.
// It holds no mutable state and is safe for concurrent use.
type ExpiryClock struct {
	Lead  time.Duration
	Clock clock.PassiveClock
}

// NewExpiryClock returns an ExpiryClock using the real clock. A non-positive lead uses
// DefaultRenewalLeadTime.
func NewExpiryClock(lead time.Duration) ExpiryClock {
	if lead <= 0 {
		lead = DefaultRenewalLeadTime
	}
	return ExpiryClock{Lead: lead, Clock: clock.RealClock{}}
}

func (c ExpiryClock) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// ExpiryOf decodes the token's expiry instant.
func (c ExpiryClock) ExpiryOf(accessToken string) (time.Time, error) {
	return ExpiryOf(accessToken)
}

// RenewAt returns the instant at which the token becomes stale.
func (c ExpiryClock) RenewAt(accessToken string) (time.Time, error) {
	exp, err := ExpiryOf(accessToken)
	if err != nil {
		return time.Time{}, err
	}
	return exp.Add(-c.Lead), nil
}

// IsStale reports whether the token is inside its renewal window or expired.
// A malformed token is stale: it forces a refresh attempt.
func (c ExpiryClock) IsStale(accessToken string) bool {
	renewAt, err := c.RenewAt(accessToken)
	if err != nil {
		return true
	}
	return !c.now().Before(renewAt)
}

// Until returns the time left before the token becomes stale, never negative.
func (c ExpiryClock) Until(accessToken string) (time.Duration, error) {
	renewAt, err := c.RenewAt(accessToken)
	if err != nil {
		return 0, err
	}
	d := renewAt.Sub(c.now())
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
