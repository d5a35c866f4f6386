package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceads/internal/models"
)

const (
	VisitorsStreamName = "VISITORS"
	VisitorSeenSubject = "visitors.seen"
)

// ErrNotConnected is returned by PublishSeen while the client is reconnecting.
var ErrNotConnected = errors.New("nats not connected")

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Publisher announces committed visitor sightings on JetStream.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewPublisher(natsURL string) (*Publisher, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream creates the VISITORS stream if it doesn't exist.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	return ensureStream(ctx, p.js)
}

// ensureStream retries up to 30 times (1s apart) to ride out NATS startup.
func ensureStream(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:        VisitorsStreamName,
		Subjects:    []string{"visitors.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Hour,
		MaxMsgs:     100000,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  30 * time.Second,
		Description: "Visitor sightings for display refresh",
	}

	const maxAttempts = 30
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err = js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
}

// PublishSeen publishes ev. The event id doubles as the JetStream message id
// so retried publishes are deduplicated. It fails fast with ErrNotConnected
// instead of waiting out the timeout while the broker is away.
func (p *Publisher) PublishSeen(ctx context.Context, ev models.VisitorSeen) error {
	if !p.nc.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal visitor seen: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := p.js.Publish(opCtx, VisitorSeenSubject, payload, jetstream.WithMsgID(ev.EventID)); err != nil {
		return fmt.Errorf("publish visitor seen: %w", err)
	}
	return nil
}

func (p *Publisher) Ping() error {
	if !p.nc.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (p *Publisher) Close() {
	p.nc.Close()
}
