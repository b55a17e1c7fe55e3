// Package mqinfra declares and tears down the broker-side topology
// (exchange, quorum queue, DLX, DLQ) this service depends on. Only
// RabbitMQ is a supported backend (durable replicated queues with
// publisher confirms and DLQ routing are a hard requirement), so
// DeclareMQ/TeardownMQ dispatch on the one configured backend.
package mqinfra

import (
	"context"
	"fmt"

	"github.com/daybreak-hq/daybreak/internal/mqs"
)

var ErrInvalidConfig = fmt.Errorf("mqinfra: no broker backend configured")

func DeclareMQ(ctx context.Context, cfg mqs.QueueConfig, policy mqs.Policy) error {
	if cfg.RabbitMQ != nil {
		return DeclareRabbitMQ(ctx, &cfg, &policy)
	}
	return ErrInvalidConfig
}

func TeardownMQ(ctx context.Context, cfg mqs.QueueConfig) error {
	if cfg.RabbitMQ != nil {
		return TeardownRabbitMQ(ctx, &cfg)
	}
	return ErrInvalidConfig
}
