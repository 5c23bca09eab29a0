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

	"github.com/wolfman30/medspa-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/medspa-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if awsCfg != nil {
		logger.Info("aws clients enabled", "services", mainconfig.AWSConsumers(cfg))
	}
	app, err := bootstrap.New(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := app.HTTPHandler()
	if err != nil {
		return err
	}

	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if cfg.UseMemoryQueue {
		// Nothing else can drain an in-process queue.
		logger.Info("running conversation worker, payment sweeper and outbox deliverer in-process")
		app.StartWorker(workers)
		app.StartBackground(workers)
	}

	srv := newServer(cfg.Port, handler)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	cancelWorkers()
	app.Wait()
	return nil
}

func newServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
