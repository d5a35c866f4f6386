package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceads/internal/capture"
	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/identity"
	"github.com/your-org/faceads/internal/observability"
	"github.com/your-org/faceads/internal/queue"
	"github.com/your-org/faceads/internal/storage"
	"github.com/your-org/faceads/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("capture stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("capture stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting capture loop",
		"device", cfg.Camera.Device,
		"backend", cfg.Vision.Backend,
		"db", cfg.Database.Driver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down capture...")
		cancel()
	}()

	if cfg.Vision.Backend == vision.BackendONNX {
		if err := vision.InitRuntime(cfg.Vision.ONNXLibrary); err != nil {
			return err
		}
		defer vision.DestroyRuntime()
	}

	recognizer, err := vision.New(cfg.Vision)
	if err != nil {
		return fmt.Errorf("init recognizer: %w", err)
	}
	defer recognizer.Close()

	deriver, err := identity.New(cfg.Identity)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// NATS is optional; the display falls back to polling.
	var notifier capture.Notifier
	if cfg.NATS.URL != "" {
		publisher, err := queue.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("connect to nats, continuing without events", "error", err)
		} else {
			defer publisher.Close()
			// Stream setup retries while the broker starts; capture does not wait.
			go func() {
				if err := publisher.EnsureStream(ctx); err != nil {
					slog.Warn("ensure nats stream", "error", err)
				}
			}()
			notifier = publisher
		}
	}

	go serveMetrics(ctx, cfg.Capture.MetricsPort, store.Ping)

	loop := capture.NewLoop(
		capture.NewFFmpegSource(cfg.Camera),
		recognizer,
		deriver,
		store,
		notifier,
		cfg.Capture.Cooldown,
		cfg.Camera.MaxRetries,
	)
	return loop.Run(ctx)
}

func serveMetrics(ctx context.Context, port int, ping func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("capture metrics listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}
