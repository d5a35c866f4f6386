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

	"github.com/your-org/faceads/internal/api"
	"github.com/your-org/faceads/internal/api/handlers"
	"github.com/your-org/faceads/internal/api/ws"
	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/display"
	"github.com/your-org/faceads/internal/models"
	"github.com/your-org/faceads/internal/observability"
	"github.com/your-org/faceads/internal/queue"
	"github.com/your-org/faceads/internal/storage"
	"github.com/your-org/faceads/pkg/dto"
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
		slog.Error("display stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting display service", "addr", cfg.Server.Addr(), "db", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	checks := []handlers.Check{{Name: "store", Ping: store.Ping}}

	// Object storage holds the shared ad template when template_source is minio.
	var objects display.ObjectSource
	if cfg.Display.TemplateSource == "minio" {
		bucket, err := storage.NewTemplateBucket(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("connect to minio: %w", err)
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		} else {
			key := display.TemplateObjectKey(cfg.Display)
			created, err := bucket.PutIfMissing(ctx, key, display.DefaultAdTemplate(), "text/html")
			if err != nil {
				slog.Warn("seed ad template", "key", key, "error", err)
			} else if created {
				slog.Info("seeded ad template", "bucket", cfg.MinIO.Bucket, "key", key)
			}
		}
		objects = bucket
		checks = append(checks, handlers.Check{Name: "minio", Ping: bucket.Ping})
	}

	renderer, err := display.NewRenderer(cfg.Display, objects)
	if err != nil {
		return err
	}

	hub := ws.NewHub(cfg.Server.CORSAllowOrigins)
	go hub.Run(ctx)

	// Push visitors to open pages; polling still covers a missing broker.
	if cfg.NATS.URL != "" {
		subscriber, err := queue.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			slog.Warn("connect to nats, continuing with polling only", "error", err)
		} else {
			defer subscriber.Close()
			go consumeVisitors(ctx, subscriber, hub)
			checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error {
				return subscriber.Ping()
			}})
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:           cfg.Server.APIKey,
		CORSAllowOrigins: cfg.Server.CORSAllowOrigins,
		Offer:            cfg.Display.Offer,
		Store:            store,
		Renderer:         renderer,
		Hub:              hub,
		Checks:           checks,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("display listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	slog.Info("shutting down display...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("display stopped")
	return nil
}

func consumeVisitors(ctx context.Context, subscriber *queue.Subscriber, hub *ws.Hub) {
	if err := subscriber.EnsureStream(ctx); err != nil {
		slog.Warn("ensure nats stream, continuing with polling only", "error", err)
		return
	}
	err := subscriber.ConsumeSeen(ctx, "display", func(_ context.Context, ev models.VisitorSeen) error {
		hub.Broadcast(dto.WSEvent{
			Type:     "visitor_seen",
			MemberID: ev.MemberID,
			Created:  ev.Created,
			SeenAt:   ev.SeenAt.UTC().Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		slog.Warn("start visitor consumer", "error", err)
	}
}
