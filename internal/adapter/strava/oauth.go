package strava

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// OAuthConfig describes the registered Strava application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// OAuth performs the authorization code flow and token refreshes.
type OAuth struct {
	config     *oauth2.Config
	scope      string
	httpClient *http.Client
}

// NewOAuth creates an OAuth helper. Strava expects comma-separated scopes, so
// the scope parameter is set explicitly rather than through oauth2.Config.
func NewOAuth(cfg OAuthConfig, timeout time.Duration) *OAuth {
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scope:      strings.Join(cfg.Scopes, ","),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthorizeURL returns the provider URL the browser is redirected to.
func (o *OAuth) AuthorizeURL(state string) string {
	return o.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("scope", o.scope),
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	)
}

// Exchange trades an authorization code for the athlete's first token pair.
func (o *OAuth) Exchange(ctx context.Context, code string) (domain.TokenGrant, error) {
	tok, err := o.config.Exchange(o.clientContext(ctx), code)
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%w: %w", domain.ErrTokenExchangeFailed, err)
	}

	grant := grantFromToken(tok)
	ath, ok := tok.Extra("athlete").(map[string]any)
	if !ok {
		return domain.TokenGrant{}, fmt.Errorf("%w: response has no athlete", domain.ErrTokenExchangeFailed)
	}
	id, ok := ath["id"].(float64)
	if !ok || id <= 0 {
		return domain.TokenGrant{}, fmt.Errorf("%w: response has no athlete id", domain.ErrTokenExchangeFailed)
	}
	grant.AthleteID = int64(id)
	grant.AthleteName = strings.TrimSpace(fmt.Sprintf("%v %v", stringOr(ath["firstname"]), stringOr(ath["lastname"])))
	return grant, nil
}

// Refresh exchanges a refresh token for a new pair. The returned refresh
// token replaces the old one, which Strava invalidates.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	if refreshToken == "" {
		return domain.TokenGrant{}, fmt.Errorf("%w: empty refresh token", domain.ErrTokenRefreshFailed)
	}
	src := o.config.TokenSource(o.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, err)
	}
	return grantFromToken(tok), nil
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func grantFromToken(tok *oauth2.Token) domain.TokenGrant {
	g := domain.TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	// expires_at is authoritative; oauth2 derives Expiry from expires_in.
	if v, ok := tok.Extra("expires_at").(float64); ok && v > 0 {
		g.ExpiresAt = time.Unix(int64(v), 0).UTC()
	}
	return g
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}
