package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceads/internal/models"
)

// SeenHandler receives decoded visitor sightings.
type SeenHandler func(ctx context.Context, ev models.VisitorSeen) error

// Subscriber delivers visitor sightings to the display service.
type Subscriber struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewSubscriber(natsURL string) (*Subscriber, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js}, nil
}

// EnsureStream creates the VISITORS stream so the display can subscribe
// before any capture process has started.
func (s *Subscriber) EnsureStream(ctx context.Context) error {
	return ensureStream(ctx, s.js)
}

// ConsumeSeen starts a fetch loop on the VISITORS stream. Only messages
// published after the consumer is created are delivered; a display that was
// down catches up from the store on its next poll.
func (s *Subscriber) ConsumeSeen(ctx context.Context, consumerName string, handler SeenHandler) error {
	stream, err := s.js.Stream(ctx, VisitorsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", VisitorsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		Durable:           consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     VisitorSeenSubject,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch visitor events", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				s.dispatch(ctx, msg, handler)
			}
		}
	}()

	slog.Info("visitor consumer started", "consumer", consumerName)
	return nil
}

func (s *Subscriber) dispatch(ctx context.Context, msg jetstream.Msg, handler SeenHandler) {
	ev, err := decodeSeen(msg.Data())
	if err != nil {
		slog.Warn("drop malformed visitor event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process visitor event", "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func decodeSeen(data []byte) (models.VisitorSeen, error) {
	var ev models.VisitorSeen
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode visitor seen: %w", err)
	}
	if ev.MemberID == "" {
		return ev, fmt.Errorf("decode visitor seen: missing member_id")
	}
	return ev, nil
}

func (s *Subscriber) Ping() error {
	if !s.nc.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (s *Subscriber) Close() {
	s.nc.Close()
}
