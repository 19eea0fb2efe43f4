package config

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/token"
)

const (
	LeadTimeEnvVar              = "SESSION_LEAD_TIME"
	HTTPTimeoutEnvVar           = "HTTP_TIMEOUT"
	IssuerEnvVar                = "OIDC_ISSUER"
	ClientIDEnvVar              = "OIDC_CLIENT_ID"
	RefreshURLEnvVar            = "IDP_REFRESH_URL"
	EndSessionURLEnvVar         = "IDP_END_SESSION_URL"
	PostLogoutRedirectURIEnvVar = "POST_LOGOUT_REDIRECT_URI"
	APIURLEnvVar                = "API_URL"
	IdentityURLEnvVar           = "IDENTITY_URL"
)

const defaultHTTPTimeout = 30 * time.Second

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetLeadTime() time.Duration {
	return GetDurationEnv(LeadTimeEnvVar, token.DefaultRenewalLeadTime)
}

func (Session) GetHTTPTimeout() time.Duration {
	return GetDurationEnv(HTTPTimeoutEnvVar, defaultHTTPTimeout)
}

// GetIssuer enables OIDC discovery when set; the refresh and end-session URLs are then
// taken from the provider's discovery document.
func (Session) GetIssuer() string {
	return GetEnv(IssuerEnvVar, "")
}

func (Session) GetClientID() string {
	return GetEnv(ClientIDEnvVar, "")
}

func (Session) GetRefreshURL() string {
	return GetEnv(RefreshURLEnvVar, "http://localhost:9000/refresh")
}

func (Session) GetEndSessionURL() string {
	return GetEnv(EndSessionURLEnvVar, "")
}

func (Session) GetPostLogoutRedirectURI() string {
	return GetEnv(PostLogoutRedirectURIEnvVar, "")
}

func (Session) GetAPIURL() string {
	return strings.TrimSuffix(GetEnv(APIURLEnvVar, ""), "/")
}

// GetIdentityURL defaults to the API's /graphql endpoint.
func (s Session) GetIdentityURL() string {
	if u := GetEnv(IdentityURLEnvVar, ""); u != "" {
		return u
	}
	if api := s.GetAPIURL(); api != "" {
		return api + "/graphql"
	}
	return ""
}
