package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/daybreak-hq/daybreak/internal/consumer"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/metrics"
	"github.com/daybreak-hq/daybreak/internal/mqs"
	"github.com/daybreak-hq/daybreak/internal/worker"
)

// consumerWorker adapts a consumer.Consumer into a worker.Worker so the
// supervisor can run the delivery consumer alongside the schedulers. The
// subscription is opened lazily inside Run so a broker outage at startup
// surfaces as a worker failure the supervisor reports, not a half-built App.
type consumerWorker struct {
	name      string
	subscribe func(ctx context.Context) (mqs.Subscription, error)
	handler   consumer.MessageHandler
	prefetch  int
	logger    *logging.Logger
}

func newConsumerWorker(
	name string,
	subscribe func(ctx context.Context) (mqs.Subscription, error),
	handler consumer.MessageHandler,
	prefetch int,
	logger *logging.Logger,
) *consumerWorker {
	return &consumerWorker{
		name:      name,
		subscribe: subscribe,
		handler:   handler,
		prefetch:  prefetch,
		logger:    logger,
	}
}

func (w *consumerWorker) Name() string { return w.name }

func (w *consumerWorker) Run(ctx context.Context) error {
	sub, err := w.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", w.name, err)
	}

	c := consumer.New(sub, w.handler,
		consumer.WithName(w.name),
		consumer.WithConcurrency(w.prefetch),
		consumer.WithLogger(w.logger),
	)

	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// metricsServer serves the Prometheus scrape endpoint and the
// supervisor's health status; dashboards and alerting consume these from
// outside the process.
type metricsServer struct {
	port   int
	health *worker.HealthTracker
	logger *logging.Logger
}

func newMetricsServer(port int, health *worker.HealthTracker, logger *logging.Logger) *metricsServer {
	return &metricsServer{port: port, health: health, logger: logger}
}

func (s *metricsServer) Name() string { return "metrics-server" }

func (s *metricsServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := s.health.GetStatus()
		w.Header().Set("Content-Type", "application/json")
		if !s.health.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
