package signal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrShutdownTimeout is returned when shutdownFunc outlives its budget.
var ErrShutdownTimeout = errors.New("graceful shutdown timed out")

// WaitForShutdown blocks until SIGINT/SIGTERM arrives or ctx is done, then runs
// shutdownFunc with a context bounded by timeout.
func WaitForShutdown(ctx context.Context, logger *zap.Logger, timeout time.Duration, shutdownFunc func(context.Context) error) error {
	if shutdownFunc == nil {
		return errors.New("shutdownFunc is nil, cannot execute shutdown")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("service running, waiting for SIGINT/SIGTERM...")
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context done, shutting down", zap.Error(ctx.Err()))
	}

	return runShutdown(logger, timeout, shutdownFunc)
}

func runShutdown(logger *zap.Logger, timeout time.Duration, shutdownFunc func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- shutdownFunc(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("graceful shutdown completed")
		return nil
	case <-ctx.Done():
		logger.Error("graceful shutdown timed out", zap.Duration("timeout", timeout))
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}
