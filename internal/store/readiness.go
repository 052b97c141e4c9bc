package store

import (
	"context"
	"fmt"
)

// Readiness reports ready only when every named dependency answers a ping.
type Readiness map[string]Pinger

// NewReadiness gates readiness on the credential store, the state store and
// the forecast cache.
func NewReadiness(tokens TokenStore, states StateStore, cache Cache) Readiness {
	return Readiness{"token_store": tokens, "state_store": states, "forecast_cache": cache}
}

// CheckReadiness pings each dependency and returns the first failure.
func (r Readiness) CheckReadiness(ctx context.Context) error {
	for name, p := range r {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}
	return nil
}
