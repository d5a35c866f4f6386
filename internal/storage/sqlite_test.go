package storage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceads/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSQLite(t *testing.T, clock *fakeClock) *SQLiteStore {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "nested", "app.db"),
	}
	opts := []Option{WithSeeder(NewSeeder(rand.New(rand.NewPCG(1, 2))))}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	s, err := NewSQLiteStore(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLite_EnsureCreatesAndSeeds(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLite(t, clock)
	ctx := context.Background()

	created, err := s.EnsureMemberAndSeed(ctx, "member-a")
	require.NoError(t, err)
	assert.True(t, created)

	m, err := s.GetMember(ctx, "member-a")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, clock.Now(), m.FirstSeenAt)
	assert.Equal(t, clock.Now(), m.LastSeenAt)
	require.Len(t, m.Purchases, SeedPurchaseCount)
	for i, p := range m.Purchases {
		assert.Equal(t, "member-a", p.MemberID)
		assert.Contains(t, DefaultCatalog, p.Item)
		assert.GreaterOrEqual(t, p.Amount, 1)
		assert.LessOrEqual(t, p.Amount, 3)
		assert.True(t, p.Timestamp.Before(m.FirstSeenAt))
		if i > 0 {
			assert.False(t, p.Timestamp.After(m.Purchases[i-1].Timestamp), "purchases are newest first")
		}
	}
}

func TestSQLite_EnsureIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLite(t, clock)
	ctx := context.Background()

	created, err := s.EnsureMemberAndSeed(ctx, "member-a")
	require.NoError(t, err)
	require.True(t, created)
	first := clock.Now()

	clock.Advance(10 * time.Second)
	created, err = s.EnsureMemberAndSeed(ctx, "member-a")
	require.NoError(t, err)
	assert.False(t, created)

	m, err := s.GetMember(ctx, "member-a")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Len(t, m.Purchases, SeedPurchaseCount, "re-sighting never reseeds")
	assert.Equal(t, first, m.FirstSeenAt)
	assert.Equal(t, clock.Now(), m.LastSeenAt)

	all, err := s.ListRecentMembers(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_LatestFollowsLastSeen(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLite(t, clock)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "A"} {
		clock.Advance(time.Second)
		_, err := s.EnsureMemberAndSeed(ctx, id)
		require.NoError(t, err)
	}

	latest, err := s.GetLatestMember(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "A", latest.ID)
	assert.Len(t, latest.Purchases, SeedPurchaseCount)

	clock.Advance(time.Second)
	_, err = s.EnsureMemberAndSeed(ctx, "B")
	require.NoError(t, err)

	latest, err = s.GetLatestMember(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "B", latest.ID)
}

func TestSQLite_LatestEmpty(t *testing.T) {
	s := newTestSQLite(t, nil)

	m, err := s.GetLatestMember(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = s.GetMember(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSQLite_ListRecentOrder(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLite(t, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		_, err := s.EnsureMemberAndSeed(ctx, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	list, err := s.ListRecentMembers(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "m4", list[0].ID)
	assert.Equal(t, "m3", list[1].ID)
	assert.Equal(t, "m2", list[2].ID)
}

func TestSQLite_ConcurrentEnsureCreatesOnce(t *testing.T) {
	s := newTestSQLite(t, nil)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.EnsureMemberAndSeed(ctx, "shared")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if created {
				creates++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, creates)

	m, err := s.GetMember(ctx, "shared")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Len(t, m.Purchases, SeedPurchaseCount)
}

func TestSQLite_SharedFileAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: path}

	writer, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	defer reader.Close()

	_, err = writer.EnsureMemberAndSeed(context.Background(), "visitor")
	require.NoError(t, err)

	m, err := reader.GetLatestMember(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "visitor", m.ID)
}

func TestSQLite_SchemaHoldsNoBiometrics(t *testing.T) {
	s := newTestSQLite(t, nil)

	columns := func(table string) []string {
		types, err := s.db.Migrator().ColumnTypes(table)
		require.NoError(t, err)
		var names []string
		for _, ct := range types {
			names = append(names, ct.Name())
		}
		sort.Strings(names)
		return names
	}

	assert.Equal(t, []string{"first_seen_ts", "id", "last_seen_ts"}, columns("members"))
	assert.Equal(t, []string{"amount", "member_id", "row_id", "sku", "ts"}, columns("purchases"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
