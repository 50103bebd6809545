package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wave-collector/internal/server"
	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/registers"
	"github.com/wave-collector/pkg/signal"
	"github.com/wave-collector/pkg/util"
)

const (
	projectName     = "wave-collector"
	shutdownTimeout = 15 * time.Second
)

func runAgent(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	initLogger, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	stream := cfg.Station.StreamID()
	util.PrintBanner(os.Stdout, projectName, "ColorBlue", stream+" via "+cfg.Source.Kind)

	logger.SetDefaultCollector("agent")
	logger.Info("logger initialized",
		zap.String("path", cfg.Log.Path),
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format))

	const enableProcess = true
	registry, factory := registers.InitPromRegistry(enableProcess)

	station, err := registers.NewStation(cfg, factory)
	if err != nil {
		return fmt.Errorf("build station: %w", err)
	}

	opts := []server.Option{server.WithStats(stream, station)}
	if hub := station.Hub(); hub != nil {
		opts = append(opts, server.WithHandler(cfg.Sink.WebSocket.Path, hub))
	}
	httpServer := server.NewHTTPServer(cfg.Server, logger.Named("http-server"), registry, opts...)
	if err := httpServer.Start(); err != nil {
		_ = station.Shutdown(ctx)
		return fmt.Errorf("start HTTP server: %w", err)
	}

	if err := station.Start(); err != nil {
		_ = httpServer.Shutdown(context.Background())
		_ = station.Shutdown(context.Background())
		return err
	}

	return signal.WaitForShutdown(ctx, initLogger, shutdownTimeout, func(ctx context.Context) error {
		var g errgroup.Group
		g.Go(func() error { return httpServer.Shutdown(ctx) })
		g.Go(func() error { return station.Shutdown(ctx) })
		if err := g.Wait(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("all services shutdown successfully")
		return nil
	})
}
