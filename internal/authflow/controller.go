// Package authflow runs the OAuth authorization code flow that connects an
// athlete's Strava account.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// Provider is the identity provider side of the flow.
type Provider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.TokenGrant, error)
}

// StateStore issues and consumes single-use state tokens.
type StateStore interface {
	IssueState(ctx context.Context, state domain.AuthorizationState) error
	ConsumeState(ctx context.Context, token string, now time.Time) error
}

// CredentialSaver persists the athlete's first (or replacement) token pair.
type CredentialSaver interface {
	SaveCredential(ctx context.Context, cred domain.UserCredential) error
}

// Outcome classifies a callback for the page that is rendered.
type Outcome string

const (
	OutcomeConnected    Outcome = "connected"
	OutcomeDenied       Outcome = "denied"
	OutcomeMissingCode  Outcome = "missing_code"
	OutcomeInvalidState Outcome = "invalid_state"
	OutcomeFailed       Outcome = "failed"
)

// CallbackParams are the query parameters Strava redirects back with.
type CallbackParams struct {
	Code  string
	State string
	Error string
	Scope string
}

// CallbackResult describes how a callback ended.
type CallbackResult struct {
	Outcome     Outcome
	AthleteID   int64
	AthleteName string
	Err         error
}

// Controller drives initiate and callback.
type Controller struct {
	provider Provider
	states   StateStore
	tokens   CredentialSaver
	clock    clockwork.Clock
	stateTTL time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewController creates a Controller using domain.StateTTL.
func NewController(provider Provider, states StateStore, tokens CredentialSaver, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	return &Controller{
		provider: provider,
		states:   states,
		tokens:   tokens,
		clock:    clock,
		stateTTL: domain.StateTTL,
		metrics:  metrics,
		logger:   logger,
	}
}

// Initiate stores a fresh state token and returns the authorize URL to redirect to.
func (c *Controller) Initiate(ctx context.Context) (string, error) {
	state, err := domain.NewAuthorizationState(c.clock.Now(), c.stateTTL)
	if err != nil {
		return "", err
	}
	if err := c.states.IssueState(ctx, state); err != nil {
		return "", fmt.Errorf("issue state: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return c.provider.AuthorizeURL(state.Token), nil
}

// Callback validates the redirect, exchanges the code and stores the credential.
// A reconnecting athlete's stored credential is overwritten.
func (c *Controller) Callback(ctx context.Context, p CallbackParams) CallbackResult {
	res := c.callback(ctx, p)
	c.metrics.OAuthCallbacks.WithLabelValues(string(res.Outcome)).Inc()

	switch res.Outcome {
	case OutcomeConnected:
		c.logger.Info("athlete connected", "athlete_id", res.AthleteID, "scope", p.Scope)
	case OutcomeFailed:
		c.logger.Error("oauth callback failed", "error", res.Err)
	default:
		c.logger.Warn("oauth callback rejected", "outcome", res.Outcome, "error", res.Err)
	}
	return res
}

func (c *Controller) callback(ctx context.Context, p CallbackParams) CallbackResult {
	if p.Error != "" {
		return CallbackResult{Outcome: OutcomeDenied, Err: fmt.Errorf("provider returned error %q", p.Error)}
	}
	if p.Code == "" {
		return CallbackResult{Outcome: OutcomeMissingCode, Err: errors.New("missing authorization code")}
	}

	if err := c.states.ConsumeState(ctx, p.State, c.clock.Now()); err != nil {
		if errors.Is(err, domain.ErrAuthStateInvalid) {
			return CallbackResult{Outcome: OutcomeInvalidState, Err: err}
		}
		return CallbackResult{Outcome: OutcomeFailed, Err: fmt.Errorf("consume state: %w: %w", domain.ErrStoreUnavailable, err)}
	}

	grant, err := c.provider.Exchange(ctx, p.Code)
	if err != nil {
		return CallbackResult{Outcome: OutcomeFailed, Err: err}
	}

	if err := c.tokens.SaveCredential(ctx, grant.Credential(grant.AthleteID, c.clock.Now())); err != nil {
		return CallbackResult{Outcome: OutcomeFailed, Err: fmt.Errorf("save credential: %w: %w", domain.ErrStoreUnavailable, err)}
	}

	return CallbackResult{Outcome: OutcomeConnected, AthleteID: grant.AthleteID, AthleteName: grant.AthleteName}
}
