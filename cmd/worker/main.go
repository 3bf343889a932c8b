package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"RampEngine/internal/app"
	"RampEngine/internal/config"
	"RampEngine/internal/logging"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("wiring failed", zap.Error(err))
	}
	defer a.Close()

	monitor := a.Monitor()
	feed := a.DepositFeed()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})
	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: promhttp.Handler()}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Close()
		})
	}

	logger.Info("worker started",
		zap.Duration("interval", monitor.Interval),
		zap.Bool("auto_retry", monitor.AutoRetry),
		zap.Int("ws_endpoints", len(feed.Endpoints)),
	)
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
