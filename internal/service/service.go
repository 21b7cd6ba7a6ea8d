// Package service assembles the long-running plategate processes. Each Run
// function owns construction order, startup and graceful shutdown for one
// deployment role; the cobra layer above it stays a thin flag shim.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/logging"
)

// shutdownTimeout bounds how long a stopping process waits for in-flight
// HTTP requests before tearing the listener down.
const shutdownTimeout = 10 * time.Second

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serviceLogger applies the per-role log configuration: debug level when
// requested, a rotating file log when enabled. The returned close function
// is a no-op unless a file was opened.
func serviceLogger(role string, debug bool, cfg *conf.LogConfig) (*slog.Logger, func() error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
		logging.SetLevel(level)
	}
	if cfg != nil && cfg.Enabled && cfg.Path != "" {
		logger, closer, err := logging.NewFileLogger(cfg.Path, role, level)
		if err == nil {
			return logger, closer
		}
		logging.Warn("file log unavailable, continuing on console",
			"service", role, "path", cfg.Path, "error", err)
	}
	return logging.ForService(role), func() error { return nil }
}

// closeDataStore closes the database and logs the result.
func closeDataStore(logger *slog.Logger, ds datastore.Interface) {
	if err := ds.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	} else {
		logger.Info("database closed")
	}
}

// startHTTP serves e on addr in the background. The returned channel yields
// the terminal error, if any; a clean Shutdown produces nothing.
func startHTTP(e *echo.Echo, addr string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// stopHTTP drains the listener within shutdownTimeout.
func stopHTTP(logger *slog.Logger, e *echo.Echo) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown incomplete", "error", err)
	}
}
