package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisrepo "video-job-orchestrator/internal/repository/redis"
)

func newLedger(t *testing.T) (*redisrepo.RetryLedger, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisrepo.NewRetryLedger(client, "test:", time.Hour), mr
}

func TestRetryLedger_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newLedger(t)

	_, ok, err := ledger.LastFailure(ctx, "job")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.RecordFailure(ctx, "job", at))
	require.NoError(t, ledger.RecordFailure(ctx, "job", at.Add(time.Minute)))

	got, ok, err := ledger.LastFailure(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(at.Add(time.Minute)))

	keys, err := mr.HKeys("test:retry:job")
	require.NoError(t, err)
	assert.Equal(t, []string{"last_failure"}, keys)

	assert.Equal(t, time.Hour, mr.TTL("test:retry:job"))
}

func TestRetryLedger_Forget(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	require.NoError(t, ledger.RecordFailure(ctx, "job", time.Now()))
	require.NoError(t, ledger.Forget(ctx, "job"))

	_, ok, err := ledger.LastFailure(ctx, "job")
	require.NoError(t, err)
	assert.False(t, ok)
}
