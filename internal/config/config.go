package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	PublicBaseURL   string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Strava application credentials and endpoints.
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string
	StravaScopes       []string
	StravaAPIURL       string
	StravaAuthURL      string
	StravaTokenURL     string

	// Queue configuration.
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaDLQTopic string
	KafkaGroupID  string

	// Storage backends, selected by DSN scheme.
	TokenStoreDSN      string
	StateStoreDSN      string
	TokenEncryptionKey string
	StateSweepInterval time.Duration

	// Avalanche forecast configuration.
	ForecastAPIURL        string
	ForecastPermalinkBase string
	ForecastAttribution   string
	ForecastTimeout       time.Duration
	ForecastCacheDSN      string
	ForecastCacheTTL      time.Duration
	ForecastCacheSize     int

	// Worker configuration.
	ManualMarker      string
	ProcessingTimeout time.Duration
	WorkerMaxAttempts int
}

// CallbackURL is the absolute OAuth redirect URI registered with Strava.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/callback"
}

// WebhookURL is the absolute URL Strava posts notifications to.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/webhook"
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	forecastTimeout, err := parseDuration("FORECAST_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	forecastCacheTTL, err := parseDuration("FORECAST_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}
	processingTimeout, err := parseDuration("PROCESSING_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := parseDuration("STATE_SWEEP_INTERVAL", "1m")
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("FORECAST_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := parsePositiveInt("WORKER_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		PublicBaseURL:   sharedcfg.EnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StravaClientID:     os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret: os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaVerifyToken:  os.Getenv("STRAVA_VERIFY_TOKEN"),
		StravaScopes:       parseList(sharedcfg.EnvOrDefault("STRAVA_SCOPES", "read,activity:read_all,activity:write")),
		StravaAPIURL:       sharedcfg.EnvOrDefault("STRAVA_API_URL", "https://www.strava.com/api/v3"),
		StravaAuthURL:      sharedcfg.EnvOrDefault("STRAVA_AUTH_URL", "https://www.strava.com/oauth/authorize"),
		StravaTokenURL:     sharedcfg.EnvOrDefault("STRAVA_TOKEN_URL", "https://www.strava.com/oauth/token"),

		KafkaBrokers:  sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    sharedcfg.EnvOrDefault("KAFKA_TOPIC", "strava-activity-notifications"),
		KafkaDLQTopic: sharedcfg.EnvOrDefault("KAFKA_DLQ_TOPIC", "strava-activity-notifications-dlq"),
		KafkaGroupID:  sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "avalanche-forecast-enricher"),

		TokenStoreDSN:      sharedcfg.EnvOrDefault("TOKEN_STORE_DSN", "sqlite://enricher.db"),
		StateStoreDSN:      sharedcfg.EnvOrDefault("STATE_STORE_DSN", "memory://"),
		TokenEncryptionKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),
		StateSweepInterval: sweepInterval,

		ForecastAPIURL:        sharedcfg.EnvOrDefault("FORECAST_API_URL", "https://api.avalanche.org/v2/public"),
		ForecastPermalinkBase: sharedcfg.EnvOrDefault("FORECAST_PERMALINK_BASE", "https://api.avalanche.org/v2/public/product/"),
		ForecastAttribution:   sharedcfg.EnvOrDefault("FORECAST_ATTRIBUTION", "Forecast data from avalanche.org"),
		ForecastTimeout:       forecastTimeout,
		ForecastCacheDSN:      sharedcfg.EnvOrDefault("FORECAST_CACHE_DSN", "memory://"),
		ForecastCacheTTL:      forecastCacheTTL,
		ForecastCacheSize:     cacheSize,

		ManualMarker:      sharedcfg.EnvOrDefault("MANUAL_MARKER", "#avy"),
		ProcessingTimeout: processingTimeout,
		WorkerMaxAttempts: maxAttempts,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StravaClientID == "" {
		return errors.New("STRAVA_CLIENT_ID is required")
	}
	if c.StravaClientSecret == "" {
		return errors.New("STRAVA_CLIENT_SECRET is required")
	}
	if c.StravaVerifyToken == "" {
		return errors.New("STRAVA_VERIFY_TOKEN is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required")
	}
	if c.KafkaDLQTopic == c.KafkaTopic {
		return errors.New("KAFKA_DLQ_TOPIC must differ from KAFKA_TOPIC")
	}
	if strings.TrimSpace(c.ManualMarker) == "" {
		return errors.New("MANUAL_MARKER must not be blank")
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("invalid PUBLIC_BASE_URL")
	}
	if !strings.HasSuffix(c.ForecastPermalinkBase, "/") {
		return errors.New("FORECAST_PERMALINK_BASE must end with a slash")
	}
	return nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
