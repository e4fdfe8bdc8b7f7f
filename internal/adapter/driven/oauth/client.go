// Package oauth adapts golang.org/x/oauth2 to the OAuthClient driven port.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/credkeeper/credkeeper/internal/config"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// invalidGrantCode is the RFC 6749 error code meaning the refresh token
// itself is revoked or expired, as opposed to a transient failure.
const invalidGrantCode = "invalid_grant"

// Compile-time interface satisfaction check.
var _ driven.OAuthClient = (*Client)(nil)

// Client talks to the upstream OAuth2 provider via golang.org/x/oauth2.
type Client struct {
	conf *oauth2.Config
}

// NewClient builds a Client from the configured provider settings.
func NewClient(cfg config.OAuthConfig) *Client {
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
	}
}

// Refresh exchanges the refresh token for a fresh credential by seeding a
// token source with an already-expired token, forcing an upstream refresh.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Credential, error) {
	seed := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	tok, err := c.conf.TokenSource(ctx, seed).Token()
	if err != nil {
		return model.Credential{}, mapTokenError(err)
	}
	return CredentialFromToken(tok), nil
}

// Exchange redeems an authorization code for an initial credential.
func (c *Client) Exchange(ctx context.Context, code string) (model.Credential, error) {
	tok, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return model.Credential{}, mapTokenError(err)
	}
	return CredentialFromToken(tok), nil
}

// AuthCodeURL returns the provider URL for the operator handshake.
func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// HTTPClient returns a client injecting the bearer token on every request.
// The wrapped token source refreshes autonomously when the access token
// expires mid-call; onUpdate fires with the resulting credential so the
// caller can merge and persist it.
func (c *Client) HTTPClient(ctx context.Context, cred model.Credential, onUpdate func(model.Credential)) *http.Client {
	seed := tokenFromCredential(cred)
	src := &notifyingTokenSource{
		src:        oauth2.ReuseTokenSource(seed, c.conf.TokenSource(ctx, seed)),
		lastAccess: seed.AccessToken,
		onUpdate:   onUpdate,
	}
	return oauth2.NewClient(ctx, src)
}

// mapTokenError distinguishes the terminal invalid-grant signal from
// transient provider failures.
func mapTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.ErrorCode == invalidGrantCode {
		return fmt.Errorf("provider rejected refresh token: %w", driven.ErrInvalidGrant)
	}
	return fmt.Errorf("oauth token request: %w", err)
}

// CredentialFromToken converts an oauth2 token to the domain credential.
// The scope comes from the token response's extra fields when present.
func CredentialFromToken(tok *oauth2.Token) model.Credential {
	scope, _ := tok.Extra("scope").(string)
	return model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Scope:        scope,
		ExpiryMillis: tok.Expiry.UnixMilli(),
	}
}

func tokenFromCredential(cred model.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       time.UnixMilli(cred.ExpiryMillis),
	}
}
