// Package util provides shared helpers for tests that need a live Redis.
package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// Shared connection URL for all tests in local dev
	sharedRedisURL string
	containerOnce  sync.Once
	containerErr   error

	// Rotates tests across Redis logical databases for isolation.
	dbCounter atomic.Int64
)

// SetupTestRedis returns a client bound to a logical database no other test
// in this package is using, flushed before the test starts.
// - CI: connects to the external Redis from CI_REDIS_URL
// - Local: uses a shared testcontainer (started once per package)
func SetupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	opts, err := goredis.ParseURL(getOrCreateSharedRedis(t))
	require.NoError(t, err)

	// Redis ships 16 logical databases; rotating through them keeps tests
	// apart without paying for a container each.
	opts.DB = int(dbCounter.Add(1) % 16)

	client := goredis.NewClient(opts)
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// getOrCreateSharedRedis returns a connection URL for the shared Redis.
// In CI, uses CI_REDIS_URL. In local dev, starts a shared testcontainer once.
func getOrCreateSharedRedis(t *testing.T) string {
	if ciRedisURL := os.Getenv("CI_REDIS_URL"); ciRedisURL != "" {
		t.Log("Using external Redis from CI_REDIS_URL")
		return ciRedisURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared Redis testcontainer for all tests")

		container, err := tcredis.Run(ctx,
			"redis:7-alpine",
			testcontainers.WithWaitStrategy(
				wait.ForLog("* Ready to accept connections").
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start redis container: %w", err)
			return
		}

		url, err := container.ConnectionString(ctx)
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}

		sharedRedisURL = url
		t.Logf("Shared container ready: %s", sharedRedisURL)
	})

	require.NoError(t, containerErr, "Failed to setup shared test container")
	return sharedRedisURL
}
