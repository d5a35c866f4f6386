// Package capture runs the camera polling loop: frames go to the
// recognizer, each embedding becomes an anonymous identifier and the
// identifier is upserted into the member store.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceads/internal/identity"
	"github.com/your-org/faceads/internal/models"
	"github.com/your-org/faceads/internal/observability"
	"github.com/your-org/faceads/internal/vision"
)

// Upserter is the slice of the member store the loop writes to.
type Upserter interface {
	EnsureMemberAndSeed(ctx context.Context, id string) (bool, error)
}

// Notifier announces committed sightings. Delivery is best effort.
type Notifier interface {
	PublishSeen(ctx context.Context, ev models.VisitorSeen) error
}

var errStreamEnded = errors.New("camera stream ended")

const (
	pruneThreshold = 1024
	eventQueueSize = 64
)

// Loop owns the cooldown table and is driven from a single goroutine.
type Loop struct {
	source     FrameSource
	recognizer vision.Recognizer
	deriver    *identity.Deriver
	store      Upserter
	notifier   Notifier

	cooldown   time.Duration
	maxRetries int
	retryBase  time.Duration
	now        func() time.Time

	lastSeen map[string]time.Time
	frames   int
	events   chan models.VisitorSeen
}

// NewLoop wires a capture loop. notifier may be nil; when set, sightings are
// handed to it from a separate goroutine so a slow broker never delays the
// next upsert. A negative cooldown disables per-member throttling.
func NewLoop(
	source FrameSource,
	recognizer vision.Recognizer,
	deriver *identity.Deriver,
	store Upserter,
	notifier Notifier,
	cooldown time.Duration,
	maxRetries int,
) *Loop {
	return &Loop{
		source:     source,
		recognizer: recognizer,
		deriver:    deriver,
		store:      store,
		notifier:   notifier,
		cooldown:   cooldown,
		maxRetries: maxRetries,
		retryBase:  2 * time.Second,
		now:        time.Now,
		lastSeen:   make(map[string]time.Time),
		events:     make(chan models.VisitorSeen, eventQueueSize),
	}
}

// Run reads frames until ctx is cancelled. A failing camera is reopened with
// exponential backoff (2s, 4s, 8s...); once maxRetries consecutive attempts
// fail without delivering a frame, Run returns the last error.
func (l *Loop) Run(ctx context.Context) error {
	if l.notifier != nil {
		go l.publishEvents(ctx)
	}

	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if attempt > l.maxRetries {
				return fmt.Errorf("camera failed after %d retries: %w", l.maxRetries, lastErr)
			}
			delay := l.retryBase << (attempt - 1)
			slog.Warn("reopening camera", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			observability.CameraRestarts.Inc()
		}

		before := l.frames
		err := l.source.Run(ctx, func(frame []byte) error {
			return l.ProcessFrame(ctx, frame)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errStreamEnded
		}
		lastErr = err
		slog.Error("camera failed", "attempt", attempt, "error", err)

		if l.frames > before {
			attempt = 0
		}
	}
}

// ProcessFrame embeds every face in frame and records each sighting. Only a
// cancelled ctx is returned as an error; recognizer and store failures are
// logged and counted.
func (l *Loop) ProcessFrame(ctx context.Context, frame []byte) error {
	l.frames++
	observability.FramesProcessed.Inc()

	embeddings, err := l.recognizer.Embed(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observability.RecognizerErrors.Inc()
		slog.Warn("recognize frame", "error", err)
		return nil
	}

	for _, emb := range embeddings {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.record(ctx, emb)
	}
	return nil
}

func (l *Loop) record(ctx context.Context, embedding []float32) {
	id, err := l.deriver.Derive(embedding)
	if err != nil {
		slog.Warn("derive member id", "error", err)
		return
	}
	observability.FacesEmbedded.Inc()

	now := l.now()
	if l.coolingDown(id, now) {
		observability.CooldownSkipped.Inc()
		return
	}

	created, err := l.store.EnsureMemberAndSeed(ctx, id)
	if err != nil {
		observability.StoreErrors.WithLabelValues("ensure_member").Inc()
		slog.Error("upsert member", "member_id", observability.ShortID(id), "error", err)
		return
	}
	l.lastSeen[id] = now

	result := "updated"
	if created {
		result = "created"
	}
	observability.MembersUpserted.WithLabelValues(result).Inc()
	slog.Info("visitor seen", "member_id", observability.ShortID(id), "created", created)

	l.notify(models.VisitorSeen{
		EventID:  uuid.NewString(),
		MemberID: id,
		Created:  created,
		SeenAt:   now.UTC(),
	})
}

func (l *Loop) coolingDown(id string, now time.Time) bool {
	if l.cooldown < 0 {
		return false
	}
	if len(l.lastSeen) > pruneThreshold {
		for k, t := range l.lastSeen {
			if now.Sub(t) >= l.cooldown {
				delete(l.lastSeen, k)
			}
		}
	}
	last, ok := l.lastSeen[id]
	return ok && now.Sub(last) < l.cooldown
}

// notify queues ev for publishing. A full queue drops the event; the display
// still picks the visitor up on its next poll.
func (l *Loop) notify(ev models.VisitorSeen) {
	if l.notifier == nil {
		return
	}
	select {
	case l.events <- ev:
	default:
		observability.NotificationsPublished.WithLabelValues("dropped").Inc()
		slog.Debug("visitor event queue full", "member_id", observability.ShortID(ev.MemberID))
	}
}

// publishEvents drains the event queue until ctx is done.
func (l *Loop) publishEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.events:
			if err := l.notifier.PublishSeen(ctx, ev); err != nil {
				observability.NotificationsPublished.WithLabelValues("error").Inc()
				slog.Warn("publish visitor seen", "member_id", observability.ShortID(ev.MemberID), "error", err)
				continue
			}
			observability.NotificationsPublished.WithLabelValues("ok").Inc()
		}
	}
}
