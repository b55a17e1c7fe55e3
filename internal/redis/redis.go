package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	r "github.com/redis/go-redis/v9"
)

// Cmdable is the subset of go-redis operations daybreak depends on. Kept
// as an alias, not a hand-rolled interface, so callers can still reach for
// anything else go-redis exposes without another wrapper layer.
type Cmdable = r.Cmdable

// Client is a Cmdable that also owns a connection to close.
type Client interface {
	Cmdable
	Close() error
}

const Nil = r.Nil

// New dials a single Redis instance. Unlike a multi-tenant deployment,
// daybreak has exactly one idempotence store, so there is no singleton or
// cluster-discovery path here.
func New(ctx context.Context, config *Config) (Client, error) {
	options := &r.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Username: config.Username,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.TLSEnabled {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := r.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
