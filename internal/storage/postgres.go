package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS members (
	id            TEXT PRIMARY KEY,
	first_seen_ts BIGINT NOT NULL,
	last_seen_ts  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_members_last ON members (last_seen_ts);
CREATE TABLE IF NOT EXISTS purchases (
	row_id    BIGSERIAL PRIMARY KEY,
	member_id TEXT NOT NULL REFERENCES members (id) ON DELETE CASCADE,
	ts        BIGINT NOT NULL,
	sku       TEXT NOT NULL,
	amount    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchases_member ON purchases (member_id);
`

type PostgresStore struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	seeder *Seeder
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*PostgresStore, error) {
	o := buildOptions(opts)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}

	return &PostgresStore{pool: pool, now: o.now, seeder: o.seeder}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) EnsureMemberAndSeed(ctx context.Context, id string) (bool, error) {
	now := s.now()
	ts := now.UnixMilli()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO members (id, first_seen_ts, last_seen_ts) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO NOTHING`, id, ts)
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}

	created := tag.RowsAffected() == 1
	if created {
		seeded := s.seeder.Purchases(id, now)
		rows := make([][]any, 0, len(seeded))
		for _, p := range seeded {
			rows = append(rows, []any{p.MemberID, p.Timestamp.UnixMilli(), p.Item, p.Amount})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"purchases"},
			[]string{"member_id", "ts", "sku", "amount"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return false, fmt.Errorf("seed purchases: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE members SET last_seen_ts = $2 WHERE id = $1`, id, ts); err != nil {
			return false, fmt.Errorf("touch member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetLatestMember(ctx context.Context) (*models.Member, error) {
	m, err := s.scanMember(ctx,
		`SELECT id, first_seen_ts, last_seen_ts FROM members
		 ORDER BY last_seen_ts DESC, first_seen_ts DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("get latest member: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	return m, s.loadPurchases(ctx, m)
}

func (s *PostgresStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	m, err := s.scanMember(ctx,
		`SELECT id, first_seen_ts, last_seen_ts FROM members WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	return m, s.loadPurchases(ctx, m)
}

func (s *PostgresStore) ListRecentMembers(ctx context.Context, limit int) ([]models.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, first_seen_ts, last_seen_ts FROM members
		 ORDER BY last_seen_ts DESC, id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var (
			m           models.Member
			first, last int64
		)
		if err := rows.Scan(&m.ID, &first, &last); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.FirstSeenAt, m.LastSeenAt = fromMillis(first), fromMillis(last)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	for i := range members {
		if err := s.loadPurchases(ctx, &members[i]); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func (s *PostgresStore) scanMember(ctx context.Context, query string, args ...any) (*models.Member, error) {
	var (
		m           models.Member
		first, last int64
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&m.ID, &first, &last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.FirstSeenAt, m.LastSeenAt = fromMillis(first), fromMillis(last)
	return &m, nil
}

func (s *PostgresStore) loadPurchases(ctx context.Context, m *models.Member) error {
	rows, err := s.pool.Query(ctx,
		`SELECT member_id, ts, sku, amount FROM purchases WHERE member_id = $1 ORDER BY ts DESC`, m.ID)
	if err != nil {
		return fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	m.Purchases = m.Purchases[:0]
	for rows.Next() {
		var (
			p  models.Purchase
			ts int64
		)
		if err := rows.Scan(&p.MemberID, &ts, &p.Item, &p.Amount); err != nil {
			return fmt.Errorf("scan purchase: %w", err)
		}
		p.Timestamp = fromMillis(ts)
		m.Purchases = append(m.Purchases, p)
	}
	return rows.Err()
}
