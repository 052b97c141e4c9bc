// Package pipeline drives queued notifications through the processor:
// receive, process with retries, then commit or dead-letter.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Source yields queued notifications one at a time. Receive blocks until a
// delivery is available or ctx is done.
type Source interface {
	Receive(ctx context.Context) (domain.Delivery, error)
}

// Processor handles one decoded notification.
type Processor interface {
	Process(ctx context.Context, n domain.WebhookNotification) domain.Result
}

// DeadLetter parks deliveries that will never succeed.
type DeadLetter interface {
	DeadLetter(ctx context.Context, d domain.Delivery, reason string, attempts int) error
}

// Options tune retry behaviour. Zero values select the defaults.
type Options struct {
	// MaxAttempts bounds retryable failures before a delivery is dead-lettered.
	MaxAttempts int
	// AttemptTimeout bounds a single processing attempt.
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Pipeline orchestrates the receive-process-commit loop. Deliveries are
// handled one at a time; the offset is committed only after the processor
// succeeds or the delivery has been dead-lettered.
type Pipeline struct {
	source     Source
	processor  Processor
	deadLetter DeadLetter
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	opts       Options
}

// New creates a Pipeline with the given stages and observability.
func New(s Source, p Processor, dl DeadLetter, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Pipeline{
		source:     s,
		processor:  p,
		deadLetter: dl,
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
	}
}

// CheckReadiness returns nil while the consume loop is running.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline is not consuming")
	}
	return nil
}

// Run consumes deliveries until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "max_attempts", p.opts.MaxAttempts, "attempt_timeout", p.opts.AttemptTimeout)
	p.metrics.WorkerRunning.Set(1)
	p.ready.Store(true)
	defer func() {
		p.ready.Store(false)
		p.metrics.WorkerRunning.Set(0)
	}()

	backoff := p.opts.InitialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.handleNext(ctx, &backoff) {
			return nil
		}
	}
}

// handleNext receives and handles one delivery. Returns false if the pipeline should stop.
func (p *Pipeline) handleNext(ctx context.Context, backoff *time.Duration) bool {
	d, err := p.source.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("receive notification failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	*backoff = p.opts.InitialBackoff

	return p.deliver(ctx, d)
}

// deliver processes d until it succeeds, fails terminally, or exhausts its
// attempts. Returns false if the pipeline should stop; d is then left
// uncommitted for redelivery.
func (p *Pipeline) deliver(ctx context.Context, d domain.Delivery) bool {
	logger := p.logger.With("notification_id", d.ID, "partition", d.Partition, "offset", d.Offset)

	n, err := domain.DecodeNotification(d.Payload)
	if err != nil {
		logger.Warn("undecodable notification", "error", err)
		return p.park(ctx, d, err, 0, logger)
	}

	backoff := p.opts.InitialBackoff
	for attempt := 1; ; attempt++ {
		res := p.attempt(ctx, n)
		if res.OK() {
			p.commitOffset(ctx, d, logger)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if !res.Retry || attempt >= p.opts.MaxAttempts {
			return p.park(ctx, d, res.Err, attempt, logger)
		}

		logger.Info("retrying notification", "attempt", attempt, "backoff", backoff, "error", res.Err)
		if !retry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = retry.NextBackoff(backoff, p.opts.MaxBackoff)
	}
}

func (p *Pipeline) attempt(ctx context.Context, n domain.WebhookNotification) domain.Result {
	if p.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	res := p.processor.Process(ctx, n)
	p.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	return res
}

// park dead-letters d and commits it. The dead-letter write is retried until
// it succeeds so a failing delivery is never silently dropped.
func (p *Pipeline) park(ctx context.Context, d domain.Delivery, cause error, attempts int, logger *slog.Logger) bool {
	reason := domain.ErrorKind(cause)
	if cause != nil {
		reason += ": " + cause.Error()
	}

	if p.deadLetter == nil {
		logger.Error("dropping notification, no dead-letter topic", "reason", reason, "attempts", attempts)
		p.commitOffset(ctx, d, logger)
		return true
	}

	backoff := p.opts.InitialBackoff
	for {
		err := p.deadLetter.DeadLetter(ctx, d, reason, attempts)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Error("dead-letter write failed", "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = retry.NextBackoff(backoff, p.opts.MaxBackoff)
	}

	p.metrics.DeadLettered.Inc()
	logger.Warn("notification dead-lettered", "reason", reason, "attempts", attempts)
	p.commitOffset(ctx, d, logger)
	return true
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, p.opts.MaxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, d domain.Delivery, logger *slog.Logger) {
	if d.Commit == nil {
		return
	}
	if err := d.Commit(ctx); err != nil {
		logger.Warn("commit offset failed", "error", err, "topic", d.Topic)
	}
}
