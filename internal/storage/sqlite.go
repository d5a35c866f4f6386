package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/models"
)

type memberRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	FirstSeenTS int64  `gorm:"column:first_seen_ts;not null"`
	LastSeenTS  int64  `gorm:"column:last_seen_ts;not null;index:idx_members_last"`
}

func (memberRow) TableName() string { return "members" }

type purchaseRow struct {
	RowID    int64  `gorm:"column:row_id;primaryKey;autoIncrement"`
	MemberID string `gorm:"column:member_id;not null;index:idx_purchases_member"`
	TS       int64  `gorm:"column:ts;not null"`
	SKU      string `gorm:"column:sku;not null"`
	Amount   int    `gorm:"column:amount;not null"`
}

func (purchaseRow) TableName() string { return "purchases" }

// SQLiteStore keeps members in a single SQLite file shared by both processes.
// WAL mode lets the display read while capture writes; immediate
// transactions plus a busy timeout serialize the writers.
type SQLiteStore struct {
	db     *gorm.DB
	now    func() time.Time
	seeder *Seeder
}

func NewSQLiteStore(cfg config.DatabaseConfig, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", cfg.Path)

	level := gormLogger.Warn
	if cfg.Echo {
		level = gormLogger.Info
	}
	gormLog := gormLogger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
	}

	if err := db.AutoMigrate(&memberRow{}, &purchaseRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, now: o.now, seeder: o.seeder}, nil
}

func (s *SQLiteStore) Close() {
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		slog.Warn("close sqlite", "error", err)
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) EnsureMemberAndSeed(ctx context.Context, id string) (bool, error) {
	now := s.now()
	ts := now.UnixMilli()
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := memberRow{ID: id, FirstSeenTS: ts, LastSeenTS: ts}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("insert member: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			err := tx.Model(&memberRow{}).Where("id = ?", id).Update("last_seen_ts", ts).Error
			if err != nil {
				return fmt.Errorf("touch member: %w", err)
			}
			return nil
		}

		created = true
		seeded := s.seeder.Purchases(id, now)
		rows := make([]purchaseRow, 0, len(seeded))
		for _, p := range seeded {
			rows = append(rows, purchaseRow{
				MemberID: p.MemberID,
				TS:       p.Timestamp.UnixMilli(),
				SKU:      p.Item,
				Amount:   p.Amount,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("seed purchases: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ensure member: %w", err)
	}
	return created, nil
}

func (s *SQLiteStore) GetLatestMember(ctx context.Context) (*models.Member, error) {
	var row memberRow
	err := s.db.WithContext(ctx).
		Order("last_seen_ts DESC").
		Order("first_seen_ts DESC").
		Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest member: %w", err)
	}
	return s.withPurchases(ctx, row)
}

func (s *SQLiteStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var row memberRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return s.withPurchases(ctx, row)
}

func (s *SQLiteStore) ListRecentMembers(ctx context.Context, limit int) ([]models.Member, error) {
	var rows []memberRow
	err := s.db.WithContext(ctx).
		Order("last_seen_ts DESC").
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]models.Member, 0, len(rows))
	for _, r := range rows {
		m, err := s.withPurchases(ctx, r)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, nil
}

func (s *SQLiteStore) withPurchases(ctx context.Context, row memberRow) (*models.Member, error) {
	var rows []purchaseRow
	err := s.db.WithContext(ctx).
		Where("member_id = ?", row.ID).
		Order("ts DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	m := &models.Member{
		ID:          row.ID,
		FirstSeenAt: fromMillis(row.FirstSeenTS),
		LastSeenAt:  fromMillis(row.LastSeenTS),
		Purchases:   make([]models.Purchase, 0, len(rows)),
	}
	for _, p := range rows {
		m.Purchases = append(m.Purchases, models.Purchase{
			MemberID:  p.MemberID,
			Item:      p.SKU,
			Amount:    p.Amount,
			Timestamp: fromMillis(p.TS),
		})
	}
	return m, nil
}
