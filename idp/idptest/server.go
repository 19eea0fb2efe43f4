package idptest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jrsteele09/go-auth-session/idp"
	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// Provider endpoints, laid out like the production identity provider.
const (
	RouteRefresh    = "/refresh"
	RouteEndSession = "/oxauth/endsession"
	RouteToken      = "/oxauth/token"
	RouteAuthorize  = "/oxauth/authorize"
	RouteJWKS       = "/oxauth/jwks"
	RouteWellKnown  = "/.well-known/openid-configuration"
	RouteLogin      = "/test/login"
)

// Handler serves the provider over HTTP. The issuer is taken from the provider, so it must
// match the URL the handler is reachable at for discovery to succeed.
func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+RouteWellKnown, p.wellKnown)
	mux.HandleFunc("GET "+RouteJWKS, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
	})
	mux.HandleFunc("GET "+RouteRefresh, p.refreshQuery)
	mux.HandleFunc("POST "+RouteToken, p.tokenGrant)
	mux.HandleFunc("GET "+RouteEndSession, p.endSession)
	mux.HandleFunc("GET "+RouteLogin, p.login)
	return mux
}

// NewServer starts an httptest server for p, sets the issuer to its URL and closes it with t.
func NewServer(t testing.TB, p *Provider) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	p.mu.Lock()
	p.issuer = srv.URL
	p.mu.Unlock()
	t.Cleanup(srv.Close)
	return srv
}

func (p *Provider) wellKnown(w http.ResponseWriter, _ *http.Request) {
	issuer := p.Issuer()
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + RouteAuthorize,
		"token_endpoint":                        issuer + RouteToken,
		"jwks_uri":                              issuer + RouteJWKS,
		"end_session_endpoint":                  issuer + RouteEndSession,
		"response_types_supported":              []string{"code", "token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"HS256"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
	})
}

func (p *Provider) refreshQuery(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.URL.Query().Get("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	set, err := p.Refresh(r.Context(), refreshToken)
	if err != nil {
		p.writeRefreshError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (p *Provider) tokenGrant(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only refresh_token is supported")
		return
	}
	set, err := p.Refresh(r.Context(), r.PostForm.Get("refresh_token"))
	if err != nil {
		p.writeRefreshError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idp.TokenResponse{
		AccessToken:  utils.Ptr(set.AccessToken),
		RefreshToken: utils.Ptr(set.RefreshToken),
		IdToken:      utils.Ptr(set.IDToken),
		TokenType:    "Bearer",
		ExpiresIn:    int(p.ttl.Seconds()),
	})
}

func (p *Provider) endSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p.mu.Lock()
	p.ended = append(p.ended, q.Get("id_token_hint"))
	p.mu.Unlock()

	redirect := q.Get("post_logout_redirect_uri")
	if _, err := url.Parse(redirect); redirect == "" || err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// login mints a set and redirects to redirect_uri with the tokens in the query, the shape the
// login callback receives.
func (p *Provider) login(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		subject = DefaultSubject
	}
	set, err := p.Login(subject)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	redirect, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || redirect.String() == "" {
		writeJSON(w, http.StatusOK, set)
		return
	}
	q := redirect.Query()
	q.Set("access_token", set.AccessToken)
	q.Set("refresh_token", set.RefreshToken)
	q.Set("id_token", set.IDToken)
	redirect.RawQuery = q.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) writeRefreshError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidGrant) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", err.Error())
		return
	}
	writeOAuthError(w, http.StatusBadGateway, "server_error", err.Error())
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
