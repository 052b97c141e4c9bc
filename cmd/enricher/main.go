package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/avalanche"
	httpadapter "github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/kafka"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/strava"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/authflow"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/config"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/ingress"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/pipeline"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/processor"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/secret"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/store"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/token"
)

const stravaTimeout = 15 * time.Second

// allReady is ready when every check is.
type allReady []sharedobs.ReadinessChecker

func (a allReady) CheckReadiness(ctx context.Context) error {
	for _, c := range a {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics, clock); err != nil {
		logger.Error("enricher failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) error {
	// Stores.
	tokens, err := store.OpenTokenStore(ctx, cfg.TokenStoreDSN)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "token store", tokens.Close)

	var credentials store.TokenStore = tokens
	if cfg.TokenEncryptionKey != "" {
		sealer, err := secret.NewSealer(cfg.TokenEncryptionKey)
		if err != nil {
			return err
		}
		credentials = store.NewSealedTokenStore(tokens, sealer)
		logger.Info("token sealing enabled")
	}

	states, err := store.OpenStateStore(ctx, cfg.StateStoreDSN)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "state store", states.Close)

	cache, err := store.OpenCache(ctx, cfg.ForecastCacheDSN, cfg.ForecastCacheSize, clock)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "forecast cache", cache.Close)

	// Strava.
	oauth := strava.NewOAuth(strava.OAuthConfig{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		RedirectURL:  cfg.CallbackURL(),
		Scopes:       cfg.StravaScopes,
	}, stravaTimeout)
	activities := strava.NewClient(cfg.StravaAPIURL, stravaTimeout, logger)
	tokenManager := token.NewManager(credentials, oauth, clock, metrics, logger)
	auth := authflow.NewController(oauth, states, credentials, clock, metrics, logger)

	// Forecasts.
	avy := avalanche.NewClient(cfg.ForecastAPIURL, cfg.ForecastTimeout, metrics, logger)
	zones := avalanche.NewZoneLocator(avy, avalanche.DefaultZoneRefresh, clock, logger)
	forecaster := avalanche.NewCachedForecaster(
		avalanche.NewForecaster(zones, avy, cfg.ForecastPermalinkBase, metrics, logger),
		cache, cfg.ForecastCacheTTL, metrics, logger,
	)

	// Queue.
	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	gatekeeper, err := ingress.NewGatekeeper(cfg.StravaClientSecret, cfg.StravaVerifyToken, writer, metrics, logger)
	if err != nil {
		return err
	}

	proc := processor.New(tokenManager, activities, forecaster,
		domain.ManualMarker(cfg.ManualMarker),
		domain.MarkerFormat{PermalinkBase: cfg.ForecastPermalinkBase, Attribution: cfg.ForecastAttribution},
		metrics, logger)
	p := pipeline.New(reader, proc, writer, logger, metrics, pipeline.Options{
		MaxAttempts:    cfg.WorkerMaxAttempts,
		AttemptTimeout: cfg.ProcessingTimeout,
	})

	ready := allReady{store.NewReadiness(tokens, states, cache), p}
	srv := httpadapter.NewServer(cfg.HTTPAddr, gatekeeper, auth, ready, logger)

	var wg sync.WaitGroup

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start enrichment pipeline.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	// Backends without native expiry need their stale states swept.
	if expiring, ok := states.(store.ExpiringStateStore); ok {
		sweeper := store.NewSweeper(expiring, cfg.StateSweepInterval, clock, metrics.StatesSwept, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	logger.Info("enricher started",
		"webhook_url", cfg.WebhookURL(),
		"callback_url", cfg.CallbackURL(),
		"topic", cfg.KafkaTopic,
		"manual_marker", cfg.ManualMarker,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	closeLogged(logger, "kafka reader", reader.Close)
	closeLogged(logger, "kafka writer", writer.Close)

	logger.Info("shutdown complete")
	return nil
}

func closeLogged(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("close "+name, "error", err)
	}
}
