// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailmerge-workers/internal/app"
	"mailmerge-workers/internal/common/camunda"
	"mailmerge-workers/internal/common/config"
	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/common/observability"
	"mailmerge-workers/internal/scheduler"

	ingest "mailmerge-workers/internal/workers/ledger/ingest-transactions"
	runmerge "mailmerge-workers/internal/workers/mailmerge/run-merge"
)

// retryWithBackoff retries operation with exponential backoff. Configuration errors are not retried.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}
		if apperrors.IsConfiguration(err) {
			return err
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// jobWorker is satisfied by both Zeebe handlers.
type jobWorker interface {
	Register() error
	Close()
	GetTaskType() string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New("worker-manager", log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init application (sheets, templates, mail, ledger, audit) with retry ---
	var application *app.App
	err = retryWithBackoff(func() error {
		var err error
		application, err = app.New(ctx, cfg, log, app.WithObservability(obs))
		return err
	}, 10, 2*time.Second, zapLog, "Application initialization")
	if err != nil {
		zapLog.Fatal("application init failed", zap.Error(err))
	}
	defer application.Close()
	zapLog.Info("Application initialized", zap.Any("components", application.Describe()))

	// --- Zeebe workers ---
	var zeebe *camunda.Client
	var workers []jobWorker
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		mergeHandler, err := runmerge.NewHandler(runmerge.HandlerOptions{
			AppConfig: cfg,
			Camunda:   zeebe,
			Logger:    log,
			Runner:    application,
		})
		if err != nil {
			zapLog.Fatal("failed to create run-merge handler", zap.Error(err))
		}
		ingestHandler, err := ingest.NewHandler(ingest.HandlerOptions{
			AppConfig: cfg,
			Camunda:   zeebe,
			Logger:    log,
			Runner:    application,
		})
		if err != nil {
			zapLog.Fatal("failed to create ingest-transactions handler", zap.Error(err))
		}

		for _, w := range []jobWorker{mergeHandler, ingestHandler} {
			if err := w.Register(); err != nil {
				zapLog.Fatal("worker registration failed", zap.String("taskType", w.GetTaskType()), zap.Error(err))
			}
			workers = append(workers, w)
		}
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
	} else {
		zapLog.Info("Camunda disabled, running on schedule only")
	}

	// --- Schedule ---
	sched := scheduler.New(log, config.GetDuration(cfg.Camunda.Timeout))
	if err := sched.Add("merge", cfg.Schedule.MergeCron, func(ctx context.Context) error {
		_, err := application.RunMerge(ctx)
		return err
	}); err != nil {
		zapLog.Fatal("invalid merge schedule", zap.Error(err))
	}
	if err := sched.Add("ingest", cfg.Schedule.IngestCron, func(ctx context.Context) error {
		_, err := application.RunIngest(ctx)
		return err
	}); err != nil {
		zapLog.Fatal("invalid ingest schedule", zap.Error(err))
	}
	sched.Start()

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := application.Ready(r.Context())
		if zeebe != nil {
			checks["zeebe"] = zeebe.HealthCheck(r.Context())
		}
		writeReady(w, checks, sched.Next())
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		zapLog.Warn("Scheduler stop timed out", zap.Error(err))
	}
	for _, w := range workers {
		w.Close()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeReady(w http.ResponseWriter, checks map[string]error, next map[string]time.Time) {
	status := http.StatusOK
	components := make(map[string]string, len(checks))
	for name, err := range checks {
		if err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	schedule := make(map[string]string, len(next))
	for name, at := range next {
		schedule[name] = at.Format(time.RFC3339)
	}

	state := "ready"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     state,
		"components": components,
		"schedule":   schedule,
		"time":       time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
