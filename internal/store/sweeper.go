package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Sweeper periodically deletes expired authorization states.
type Sweeper struct {
	states   ExpiringStateStore
	interval time.Duration
	clock    clockwork.Clock
	swept    prometheus.Counter
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. swept may be nil.
func NewSweeper(states ExpiringStateStore, interval time.Duration, clock clockwork.Clock, swept prometheus.Counter, logger *slog.Logger) *Sweeper {
	return &Sweeper{states: states, interval: interval, clock: clock, swept: swept, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce removes states expired at the current clock time.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.states.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		s.logger.Warn("sweep expired states", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Debug("swept expired states", "count", n)
		if s.swept != nil {
			s.swept.Add(float64(n))
		}
	}
	return n
}
