package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() || os.Getenv("CLOVER_REDIS_INTEGRATION") != "1" {
		t.Skip("set CLOVER_REDIS_INTEGRATION=1 to run against a redis container")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := NewClient(Config{Host: host, Port: portNum}, logger)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect(ctx))
	return client
}

func TestLocker(t *testing.T) {
	client := startRedis(t)
	locker := NewLocker(client, "test:lock:")
	ctx := context.Background()

	t.Run("second acquire fails until release", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "merge:acct:a:b", time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "merge:acct:a:b", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		require.NoError(t, lock.Release(ctx))
		again, err := locker.Acquire(ctx, "merge:acct:a:b", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("expired lock is not held", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "merge:acct:c:d", 50*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(150 * time.Millisecond)

		other, err := locker.Acquire(ctx, "merge:acct:c:d", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
		require.NoError(t, other.Release(ctx))
	})
}
