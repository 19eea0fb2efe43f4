package token

import (
	"errors"
	"strings"
)

// ErrIncompleteTokenSet is returned when a token set is missing one of its three tokens.
var ErrIncompleteTokenSet = errors.New("incomplete token set")

// Set is the atomic unit of session state: the access, refresh and identity tokens issued together
// by the identity provider. A Set is either complete or absent; partial sets are never persisted.
type Set struct {
	// AccessToken is the short-lived bearer credential attached to API calls.
	// It is a JWT carrying an "exp" claim.
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged with the identity provider for a new Set.
	RefreshToken string `json:"refresh_token"`

	// IDToken is the identity assertion presented as id_token_hint at logout.
	IDToken string `json:"id_token"`
}

// Complete reports whether all three tokens are populated.
func (s Set) Complete() bool {
	return strings.TrimSpace(s.AccessToken) != "" &&
		strings.TrimSpace(s.RefreshToken) != "" &&
		strings.TrimSpace(s.IDToken) != ""
}

// Validate returns ErrIncompleteTokenSet unless the set is complete.
func (s Set) Validate() error {
	if !s.Complete() {
		return ErrIncompleteTokenSet
	}
	return nil
}

// Merge fills the refresh and identity tokens from prev when s omits them.
// Providers commonly leave unchanged values out of a refresh response.
func (s Set) Merge(prev Set) Set {
	if s.RefreshToken == "" {
		s.RefreshToken = prev.RefreshToken
	}
	if s.IDToken == "" {
		s.IDToken = prev.IDToken
	}
	return s
}

// Equal reports whether both sets hold the same three tokens.
func (s Set) Equal(other Set) bool {
	return s == other
}
