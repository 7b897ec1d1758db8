package utils

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObtainLedgerLocks_NoRedisIsNoop(t *testing.T) {
	config.SetRedisClient(nil)
	release, err := ObtainLedgerLocks(context.Background(), "utils", "test", ProductLockKey(1))
	require.NoError(t, err)
	release()
}

func TestObtainLedgerLocks_HoldsUntilRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.SetRedisClient(client)
	t.Cleanup(func() {
		config.SetRedisClient(nil)
		_ = client.Close()
	})
	t.Setenv("LEDGER_LOCK_TTL_SECONDS", "1")

	ctx := context.Background()
	release, err := ObtainLedgerLocks(ctx, "utils", "test", CustomerLockKey(7), ProductLockKey(2), ProductLockKey(2))
	require.NoError(t, err)
	assert.True(t, mr.Exists("productLock:2"))
	assert.True(t, mr.Exists("customerLock:7"))

	// a second holder cannot obtain the same key while the first holds it
	_, err = ObtainLedgerLocks(ctx, "utils", "test", ProductLockKey(2))
	require.ErrorIs(t, err, ErrLockNotObtained)

	release()
	assert.False(t, mr.Exists("productLock:2"))
	assert.False(t, mr.Exists("customerLock:7"))

	release2, err := ObtainLedgerLocks(ctx, "utils", "test", ProductLockKey(2))
	require.NoError(t, err)
	release2()
}
