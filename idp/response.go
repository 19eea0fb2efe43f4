package idp

import (
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/token"
)

// TokenResponse is the body returned by the refresh endpoint. Providers may omit the refresh
// and ID tokens when they did not change.
type TokenResponse struct {
	// AccessToken is the new short-lived bearer JWT.
	AccessToken *string `json:"access_token,omitempty"`

	// RefreshToken replaces the redeemed one when the provider rotates refresh tokens.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// IdToken is presented as id_token_hint at logout.
	IdToken *string `json:"id_token,omitempty"`

	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is only a hint; the exp claim of the access token decides renewal.
	ExpiresIn int `json:"expires_in,omitempty"`
}

// Set converts the response to a token set. Omitted values are empty; the caller merges them
// from the previous set.
func (r TokenResponse) Set() token.Set {
	return token.Set{
		AccessToken:  utils.Value(r.AccessToken),
		RefreshToken: utils.Value(r.RefreshToken),
		IDToken:      utils.Value(r.IdToken),
	}
}
