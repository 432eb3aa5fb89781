package cmd

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
	"github.com/felixgeelhaar/dispatch/internal/telemetry"
	"github.com/felixgeelhaar/dispatch/internal/version"
)

// setupObservability configures logging and optional telemetry.
// It returns a cleanup function that should be deferred by the caller.
func setupObservability(ctx context.Context, cfg *config.Config, stderr io.Writer) (*log.Logger, func()) {
	logger := setupLogging(cfg.Log, stderr)
	telemetryCleanup := setupTelemetry(ctx, cfg.Telemetry, logger)
	return logger, telemetryCleanup
}

func setupLogging(cfg config.LogConfig, w io.Writer) *log.Logger {
	info := version.GetInfo()

	logger := log.New(log.Config{
		Level:          log.ParseLevel(cfg.Level),
		Format:         log.ParseFormat(cfg.Format),
		Output:         log.NewOutput(w),
		AddSource:      false,
		ServiceName:    "dispatch",
		ServiceVersion: info.Version,
	})

	log.SetDefaultLogger(logger)
	return logger
}

func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig, logger *log.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	info := version.GetInfo()
	telemCfg := telemetry.Config{
		ServiceName:    "dispatch",
		ServiceVersion: info.Version,
		Environment:    "production",
		Enabled:        true,
		Exporter:       cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		SampleRate:     cfg.SampleRate,
	}

	shutdown, err := telemetry.InitProvider(ctx, telemCfg)
	if err != nil {
		logger.WithError(err).Warn("failed to initialize telemetry")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to shut down telemetry")
		}
	}
}

// serveMetrics exposes reg on addr under /metrics until the returned stop
// function is called.
func serveMetrics(addr string, reg prometheus.Gatherer, logger *log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(reg, metrics.DefaultHandlerOpts()))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
