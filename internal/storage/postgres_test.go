//go:build integration

package storage

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/faceads/internal/config"
)

func setupPostgres(t *testing.T, clock *fakeClock) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "faceads",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     portNum,
		Name:     "faceads",
		User:     "test",
		Password: "test",
		MaxConns: 5,
	}

	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	s, err := NewPostgresStore(ctx, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPostgres_MemberLifecycle(t *testing.T) {
	clock := newFakeClock()
	s := setupPostgres(t, clock)
	ctx := context.Background()

	latest, err := s.GetLatestMember(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, id := range []string{"A", "B", "A"} {
		clock.Advance(time.Second)
		_, err := s.EnsureMemberAndSeed(ctx, id)
		require.NoError(t, err)
	}

	latest, err = s.GetLatestMember(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "A", latest.ID)
	assert.Len(t, latest.Purchases, SeedPurchaseCount)
	assert.True(t, latest.LastSeenAt.After(latest.FirstSeenAt))

	list, err := s.ListRecentMembers(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPostgres_ConcurrentEnsureCreatesOnce(t *testing.T) {
	s := setupPostgres(t, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.EnsureMemberAndSeed(ctx, "shared")
			assert.NoError(t, err)
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	m, err := s.GetMember(ctx, "shared")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Len(t, m.Purchases, SeedPurchaseCount)
}
