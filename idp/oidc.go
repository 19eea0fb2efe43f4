package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/token"
	"golang.org/x/oauth2"
)

// Discovery is what OIDC discovery yields for the session subsystem.
type Discovery struct {
	Provider  *oidc.Provider
	Refresher *OAuth2Refresher
	Client    *Client
}

// Discover reads the issuer's discovery document. The returned refresher redeems refresh tokens
// at the discovered token endpoint, and Client builds end-session URLs from
// end_session_endpoint. Client.Refresh is not usable on a discovered client; use Refresher.
func Discover(ctx context.Context, issuer, clientID, postLogoutRedirectURI string, opts ...ClientOption) (*Discovery, error) {
	c := NewClient("", "", postLogoutRedirectURI, opts...)
	ctx = oidc.ClientContext(ctx, c.httpClient)

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var claims struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to read discovery claims: %w", err)
	}
	c.endSessionURL = claims.EndSessionEndpoint

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Discovery{
		Provider: provider,
		Refresher: &OAuth2Refresher{
			config:     &oauth2.Config{ClientID: clientID, Endpoint: endpoint},
			httpClient: c.httpClient,
		},
		Client: c,
	}, nil
}

// OAuth2Refresher redeems refresh tokens with the standard refresh_token grant.
type OAuth2Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Refresher creates a refresher for a known token endpoint.
func NewOAuth2Refresher(clientID, tokenURL string, httpClient *http.Client) *OAuth2Refresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuth2Refresher{
		config: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		httpClient: httpClient,
	}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (token.Set, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	// An already expired token forces the source to redeem the refresh token.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil {
			switch retrieve.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return token.Set{}, fmt.Errorf("%w: %w", ErrRefreshRejected, err)
			}
		}
		return token.Set{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	set := token.Set{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if id, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = id
	}
	if set.AccessToken == "" {
		return token.Set{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrEmptyAccessToken)
	}
	return set, nil
}
