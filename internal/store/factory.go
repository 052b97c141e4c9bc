package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/store/memory"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/store/postgres"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/store/redis"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/store/sqlite"
)

// ErrUnsupportedBackend is returned for a DSN scheme a store kind cannot use.
var ErrUnsupportedBackend = errors.New("unsupported store backend")

// OpenTokenStore selects a credential backend from dsn:
// memory://, sqlite://path (or file://path, or a bare path), postgres://...
func OpenTokenStore(ctx context.Context, dsn string) (TokenStore, error) {
	scheme, parsed, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return memory.NewTokenStore(), nil
	case "", "file", "sqlite":
		s, err := openSQLite(ctx, parsed, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: token store %q", ErrUnsupportedBackend, scheme)
	}
}

// OpenStateStore selects an authorization state backend from dsn. redis://
// is accepted in addition to the token store schemes.
func OpenStateStore(ctx context.Context, dsn string) (StateStore, error) {
	scheme, parsed, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return memory.NewStateStore(), nil
	case "", "file", "sqlite":
		s, err := openSQLite(ctx, parsed, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis", "rediss":
		client, err := redis.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return redis.NewStateStore(client), nil
	default:
		return nil, fmt.Errorf("%w: state store %q", ErrUnsupportedBackend, scheme)
	}
}

// OpenCache selects a cache backend from dsn: memory:// (bounded by size) or redis://.
func OpenCache(ctx context.Context, dsn string, size int, clock clockwork.Clock) (Cache, error) {
	scheme, _, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return memory.NewCache(size, clock), nil
	case "redis", "rediss":
		client, err := redis.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return redis.NewCache(client), nil
	default:
		return nil, fmt.Errorf("%w: cache %q", ErrUnsupportedBackend, scheme)
	}
}

func openSQLite(ctx context.Context, parsed *url.URL, dsn string) (*sqlite.Store, error) {
	path, err := dsnPath(parsed, dsn)
	if err != nil {
		return nil, err
	}
	return sqlite.Open(ctx, path)
}

func parseDSN(dsn string) (string, *url.URL, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", nil, errors.New("store dsn is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", nil, fmt.Errorf("parse store dsn: %w", err)
	}
	return strings.ToLower(parsed.Scheme), parsed, nil
}

// dsnPath extracts a filesystem path from sqlite://path, file://path or a bare path.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return strings.TrimSpace(raw), nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("store dsn %q has no path", raw)
	}
	return path, nil
}
