package app

import (
	"context"
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/config"
	"github.com/daybreak-hq/daybreak/internal/delivery"
	deliverylogpgstore "github.com/daybreak-hq/daybreak/internal/deliverylog/pgstore"
	"github.com/daybreak-hq/daybreak/internal/eventtype"
	"github.com/daybreak-hq/daybreak/internal/idempotence"
	"github.com/daybreak-hq/daybreak/internal/metrics"
	"github.com/daybreak-hq/daybreak/internal/models"
	"github.com/daybreak-hq/daybreak/internal/mqinfra"
	"github.com/daybreak-hq/daybreak/internal/mqs"
	"github.com/daybreak-hq/daybreak/internal/scheduler"
	"github.com/daybreak-hq/daybreak/internal/sendclient"
	userspgstore "github.com/daybreak-hq/daybreak/internal/users/pgstore"
	"github.com/daybreak-hq/daybreak/internal/worker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func mqinfraDeclare(ctx context.Context, cfg *config.Config) error {
	return mqinfra.DeclareMQ(ctx, cfg.QueueConfig(), cfg.QueuePolicy())
}

// buildRegistry registers every event-type strategy this process knows
// about. A new event type is one new line here.
func buildRegistry() *eventtype.Registry {
	registry := eventtype.NewRegistry()
	registry.MustRegister(eventtype.NewBirthday())
	registry.MustRegister(eventtype.NewAnniversary())
	return registry
}

// buildServices wires every dependency and registers the workers this
// process's configured service type runs.
func (a *App) buildServices(ctx context.Context) error {
	serviceType, err := a.config.GetService()
	if err != nil {
		return err
	}

	a.supervisor = worker.NewWorkerSupervisor(a.logger, worker.WithShutdownTimeout(30*time.Second))

	deliveries := deliverylogpgstore.New(a.db)
	users := userspgstore.New(a.db)
	registry := buildRegistry()

	mainQueue := mqs.NewRabbitMQQueue(a.config.QueueConfig().RabbitMQ)
	cleanupMain, err := mainQueue.Init(ctx)
	if err != nil {
		return fmt.Errorf("app: init main queue: %w", err)
	}
	a.mainQueue = mainQueue
	a.cleanupFuncs = append(a.cleanupFuncs, func(context.Context) { cleanupMain() })

	runScheduler := serviceType == config.ServiceScheduler || serviceType == config.ServiceAll
	runWorker := serviceType == config.ServiceWorker || serviceType == config.ServiceAll

	if runScheduler {
		a.supervisor.Register(scheduler.NewPreCalc(a.logger, users, deliveries, registry))
		a.supervisor.Register(scheduler.NewEnqueue(a.logger, deliveries, mainQueue, a.config.EnqueueWindow()))
		a.supervisor.Register(scheduler.NewRecovery(a.logger, deliveries, a.config.EnqueueWindow(), a.config.StuckTimeout(), a.config.MaxRetries))
	}

	if runWorker {
		dlQueue := mqs.NewRabbitMQQueue(a.config.DLQConfig().RabbitMQ)
		cleanupDLQ, err := dlQueue.Init(ctx)
		if err != nil {
			return fmt.Errorf("app: init dead-letter queue: %w", err)
		}
		a.dlQueue = dlQueue
		a.cleanupFuncs = append(a.cleanupFuncs, func(context.Context) { cleanupDLQ() })

		sendClients := a.buildSendClientManager(registry)

		idem := idempotence.New(a.redisClient, idempotence.WithSuccessfulTTL(24*time.Hour))

		backoff := a.config.RetryBackoff()
		handler := delivery.New(
			a.logger,
			deliveries,
			users,
			sendClients,
			dlQueue,
			idem,
			a.config.MaxRetries,
			func(retryCount int) time.Duration { return backoff.Duration(retryCount) },
		)

		a.supervisor.Register(newConsumerWorker(
			"delivery-consumer",
			mainQueue.Subscribe,
			handler,
			a.config.Prefetch,
			a.logger,
		))
	}

	a.supervisor.Register(newMetricsServer(a.config.MetricsPort, a.supervisor.GetHealthTracker(), a.logger))

	return nil
}

// buildSendClientManager builds one circuit-broken, retrying send client per
// registered event type, with every breaker state transition audit-logged
// and mirrored into the daybreak_circuit_breaker_state gauge.
func (a *App) buildSendClientManager(registry *eventtype.Registry) *sendclient.Manager {
	manager := sendclient.NewManager()
	cfg := sendclient.Config{
		BaseURL:        a.config.SendAPIURL,
		SendTimeout:    a.config.SendTimeout(),
		ErrorThreshold: a.config.CircuitErrorThreshold,
		ResetTimeout:   a.config.CircuitReset(),
	}

	for _, strategy := range registry.All() {
		manager.Register(strategy.EventType(), cfg, a.onBreakerStateChange)
	}
	return manager
}

func (a *App) onBreakerStateChange(eventType models.EventType, from, to gobreaker.State) {
	a.logger.Audit("circuit breaker state changed",
		zap.String("event_type", string(eventType)),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	metrics.CircuitBreakerState.WithLabelValues(string(eventType)).Set(float64(to))
}
