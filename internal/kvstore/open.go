package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/llmchat/internal/reliability"
)

// RetryOptions bounds connection attempts made by Open.
type RetryOptions struct {
	Attempts int
	Interval time.Duration
}

// Open creates the backend named by rawURL's scheme. An empty URL selects
// the in-memory store. Connectivity failures are retried with capped
// exponential backoff; malformed URLs fail at once.
func Open(ctx context.Context, rawURL string, retry RetryOptions) (Store, error) {
	rawURL = strings.TrimSpace(rawURL)
	connect, err := connector(rawURL)
	if err != nil {
		return nil, err
	}

	interval := retry.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var (
		store     Store
		permanent error
	)
	err = reliability.Retry(ctx, retry.Attempts, interval, 8*interval, func(int) error {
		s, err := connect(ctx)
		if err == nil {
			store = s
			return nil
		}
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		permanent = err
		return nil
	})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func connector(rawURL string) (func(context.Context) (Store, error), error) {
	scheme, rest, _ := strings.Cut(rawURL, ":")
	switch strings.ToLower(scheme) {
	case "", "memory":
		return func(context.Context) (Store, error) { return NewMemoryStore(), nil }, nil
	case "redis", "rediss":
		return func(ctx context.Context) (Store, error) { return NewRedisStore(ctx, rawURL) }, nil
	case "postgres", "postgresql":
		return func(ctx context.Context) (Store, error) { return NewPostgresStore(ctx, rawURL) }, nil
	case "mongodb", "mongodb+srv":
		return func(ctx context.Context) (Store, error) { return NewMongoStore(ctx, rawURL) }, nil
	case "sqlite", "sqlite3":
		dsn := strings.TrimPrefix(rest, "//")
		if dsn == "" {
			return nil, fmt.Errorf("sqlite store url %q has no path", rawURL)
		}
		return func(ctx context.Context) (Store, error) { return NewSQLiteStore(ctx, dsn) }, nil
	default:
		return nil, fmt.Errorf("unsupported store url scheme %q", scheme)
	}
}

// Kind names the backend rawURL selects, without exposing credentials.
func Kind(rawURL string) string {
	scheme, _, _ := strings.Cut(strings.TrimSpace(rawURL), ":")
	switch strings.ToLower(scheme) {
	case "", "memory":
		return "memory"
	case "redis", "rediss":
		return "redis"
	case "postgres", "postgresql":
		return "postgres"
	case "mongodb", "mongodb+srv":
		return "mongo"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "unknown"
	}
}
