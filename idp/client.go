// Package idp talks to the identity provider: token refresh, the end-session redirect and the
// login callback. Discover builds the same pieces from OIDC discovery.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRefreshRejected means the provider refused the refresh token (revoked, reused, expired).
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrRefreshFailed is any other refresh failure, including transport errors and timeouts.
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrEmptyAccessToken means the refresh response carried no access token.
	ErrEmptyAccessToken = errors.New("refresh response has no access token")

	// ErrCallbackIncomplete means the login callback did not carry all three tokens.
	ErrCallbackIncomplete = errors.New("login callback is missing tokens")
)

const maxResponseBytes = 1 << 20

// Client calls the provider's refresh endpoint and builds its end-session URL.
type Client struct {
	refreshURL            string
	endSessionURL         string
	postLogoutRedirectURI string
	httpClient            *http.Client
	logger                zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for refresh calls. Its Timeout bounds every refresh.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a provider client.
func NewClient(refreshURL, endSessionURL, postLogoutRedirectURI string, opts ...ClientOption) *Client {
	c := &Client{
		refreshURL:            refreshURL,
		endSessionURL:         endSessionURL,
		postLogoutRedirectURI: postLogoutRedirectURI,
		httpClient:            http.DefaultClient,
		logger:                log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh redeems refreshToken with GET <refreshURL>?refresh_token=... .
func (c *Client) Refresh(ctx context.Context, refreshToken string) (token.Set, error) {
	u, err := url.Parse(c.refreshURL)
	if err != nil {
		return token.Set{}, fmt.Errorf("%w: invalid refresh url: %v", ErrRefreshFailed, err)
	}
	q := u.Query()
	q.Set("refresh_token", refreshToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return token.Set{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return token.Set{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return token.Set{}, fmt.Errorf("%w: read response: %w", ErrRefreshFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		c.logger.Debug().Int("status", resp.StatusCode).Msg("Refresh token rejected")
		return token.Set{}, fmt.Errorf("%w: status %d: %s", ErrRefreshRejected, resp.StatusCode, oauthError(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return token.Set{}, fmt.Errorf("%w: status %d: %s", ErrRefreshFailed, resp.StatusCode, oauthError(body))
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return token.Set{}, fmt.Errorf("%w: decode response: %w", ErrRefreshFailed, err)
	}
	set := tr.Set()
	if set.AccessToken == "" {
		return token.Set{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrEmptyAccessToken)
	}
	return set, nil
}

// EndSessionURL returns the provider's end-session URL with id_token_hint and
// post_logout_redirect_uri set. It returns "" when no end-session endpoint is configured.
func (c *Client) EndSessionURL(idToken string) string {
	if c.endSessionURL == "" {
		return ""
	}
	u, err := url.Parse(c.endSessionURL)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.endSessionURL).Msg("Invalid end-session URL")
		return ""
	}
	q := u.Query()
	q.Set("id_token_hint", idToken)
	if c.postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", c.postLogoutRedirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseCallback extracts the token set from the login redirect. Tokens are read from the query
// and, for implicit-style redirects, from the fragment.
func ParseCallback(u *url.URL) (token.Set, error) {
	values := u.Query()
	if u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			for k, v := range frag {
				if values.Get(k) == "" {
					values[k] = v
				}
			}
		}
	}

	if msg := values.Get("error"); msg != "" {
		return token.Set{}, fmt.Errorf("login failed: %s: %s", msg, values.Get("error_description"))
	}

	set := token.Set{
		AccessToken:  values.Get(store.KeyAccessToken),
		RefreshToken: values.Get(store.KeyRefreshToken),
		IDToken:      values.Get(store.KeyIDToken),
	}
	if !set.Complete() {
		var missing []string
		for _, k := range store.Keys {
			if values.Get(k) == "" {
				missing = append(missing, k)
			}
		}
		return token.Set{}, fmt.Errorf("%w: %s", ErrCallbackIncomplete, strings.Join(missing, ", "))
	}
	return set, nil
}

func oauthError(body []byte) string {
	var e struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return strings.TrimSpace(string(body))
	}
	if e.Description == "" {
		return e.Error
	}
	return e.Error + ": " + e.Description
}
