// --- File: reengagementservice/service.go ---
package reengagementservice

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-reengagement-service/internal/api"
	"github.com/tinywideclouds/go-reengagement-service/internal/platform/vapid"
	"github.com/tinywideclouds/go-reengagement-service/internal/scheduler"
	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/reengagementservice/config"
)

// Wrapper assembles the HTTP surface and the inactivity scheduler into one
// service lifecycle.
type Wrapper struct {
	*microservice.BaseServer
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// New assembles the service: routes on the base server, CORS for the
// browser-facing endpoints, and the scheduler around the given store and
// dispatcher.
func New(
	cfg *config.Config,
	store dispatch.SubscriberStore,
	dispatcher dispatch.Dispatcher,
	signer *vapid.Signer,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	subscriberAPI := api.NewSubscriberAPI(store, dispatcher, signer, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// Browser-facing routes go through CORS; the client app calls them
	// cross-origin.
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mux.Handle("OPTIONS /subscribe", corsMiddleware(noop))
	mux.Handle("OPTIONS /heartbeat", corsMiddleware(noop))
	mux.Handle("OPTIONS /vapid-public-key", corsMiddleware(noop))

	mux.Handle("GET /vapid-public-key", corsMiddleware(http.HandlerFunc(subscriberAPI.VapidPublicKeyHandler)))
	mux.Handle("POST /subscribe", corsMiddleware(http.HandlerFunc(subscriberAPI.SubscribeHandler)))
	mux.Handle("POST /heartbeat", corsMiddleware(http.HandlerFunc(subscriberAPI.HeartbeatHandler)))

	// Operator-facing diagnostics stay same-origin.
	mux.Handle("POST /test-send/{name}", http.HandlerFunc(subscriberAPI.TestSendHandler))
	mux.Handle("GET /subscribers", http.HandlerFunc(subscriberAPI.ListSubscribersHandler))
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Wrapper{
		BaseServer: baseServer,
		scheduler:  sched,
		logger:     logger,
	}, nil
}

// Start launches the scheduler and serves HTTP until Shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	schedulerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.scheduler.Start(schedulerCtx)

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops the scheduler first so no sweep is mid-flight while the
// HTTP server drains, then shuts the server down.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if w.cancel != nil {
		w.cancel()
	}
	w.scheduler.Stop()

	var finalErr error
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
