package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/handler"
	"github.com/bostonrobbie/signalbridge/src/ingest"
	"github.com/bostonrobbie/signalbridge/src/integrity"
	"github.com/bostonrobbie/signalbridge/src/monitor"
	"github.com/bostonrobbie/signalbridge/src/repository"
)

// Deps bundles everything the HTTP API serves from. Wired explicitly in cmd.
type Deps struct {
	Pipeline    *ingest.Pipeline
	WebhookLogs *repository.WebhookLogRepository
	Positions   *repository.PositionRepository
	Trades      *repository.TradeRepository
	Executions  *repository.ExecutionRecordRepository
	Strategies  *repository.StrategyRepository
	Monitor     *monitor.HealthMonitor
	Validator   *integrity.Validator
}

// NewRouter mounts the ingress webhook and the dashboard's read API.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/healthcheck error")
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/webhooks/tradingview", handler.TradingViewWebhookHandler(deps.Pipeline))
		api.Get("/webhooks", handler.SearchWebhookLogsHandler(deps.WebhookLogs))
		api.Get("/positions/open", handler.OpenPositionsHandler(deps.Positions))
		api.Get("/trades", handler.SearchTradesHandler(deps.Trades))
		api.Get("/executions", handler.RecentExecutionsHandler(deps.Executions))
		api.Get("/strategies", handler.ListStrategiesHandler(deps.Strategies))
		api.Put("/strategies/{strategyId}/autotrade", handler.SetAutoTradeHandler(deps.Strategies))
		api.Get("/brokers/health", handler.BrokerHealthHandler(deps.Monitor))
		api.Get("/integrity", handler.IntegrityHandler(deps.Validator))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}

// StartServer runs the HTTP API until ctx is canceled, then shuts down
// gracefully. Signal handling belongs to the caller so the trader and
// monitor loops share the same lifetime.
func StartServer(ctx context.Context, port string, h http.Handler) {
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
