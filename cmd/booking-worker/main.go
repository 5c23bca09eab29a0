// Command booking-worker consumes the conversation queue, sweeps expired
// payment links and delivers outbox events.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medspa-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/medspa-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var errMemoryQueue = errors.New("booking-worker cannot share an in-process queue; run cmd/api with USE_MEMORY_QUEUE instead")

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("booking worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("booking worker stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg.UseMemoryQueue {
		return errMemoryQueue
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, cfg, &awsCfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("starting booking worker",
		"queue_url", cfg.ConversationQueueURL,
		"pollers", cfg.WorkerCount,
	)
	app.StartWorker(ctx)
	app.StartBackground(ctx)

	// Health and metrics only.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down booking worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	app.Wait()
	return nil
}
