package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/models"
)

// MemberStore is the shared durable state between the capture loop and the
// display service. Lookups return nil, nil when nothing matches.
type MemberStore interface {
	// EnsureMemberAndSeed inserts the member and seeds its purchases on first
	// sight, otherwise advances last_seen to now. It reports whether the
	// member was created.
	EnsureMemberAndSeed(ctx context.Context, id string) (bool, error)
	// GetLatestMember returns the most recently seen member with purchases.
	GetLatestMember(ctx context.Context) (*models.Member, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ListRecentMembers(ctx context.Context, limit int) ([]models.Member, error)
	Ping(ctx context.Context) error
	Close()
}

type options struct {
	now    func() time.Time
	seeder *Seeder
}

// Option customises a store.
type Option func(*options)

// WithClock replaces time.Now for timestamping upserts.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSeeder replaces the purchase seeder.
func WithSeeder(s *Seeder) Option {
	return func(o *options) { o.seeder = s }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.seeder == nil {
		o.seeder = NewSeeder(nil)
	}
	return o
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (MemberStore, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteStore(cfg, opts...)
	case "postgres":
		return NewPostgresStore(ctx, cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 200 {
		return 200
	}
	return limit
}
