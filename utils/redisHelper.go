package utils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/billing_backend/config"
)

var ErrLockNotObtained = errors.New("could not obtain ledger lock")

func ProductLockKey(productId int) string {
	return fmt.Sprintf("productLock:%d", productId)
}

func CustomerLockKey(customerId int) string {
	return fmt.Sprintf("customerLock:%d", customerId)
}

// ObtainLedgerLocks takes a redis lock per key, in sorted order, and returns a release func
// that must be called once the unit of work has committed or rolled back.
// Without Redis it is a no-op; the database row locks still serialize the postings.
func ObtainLedgerLocks(ctx context.Context, moduleName string, functionName string, keys ...string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil || len(keys) == 0 {
		return func() {}, nil
	}
	logger := config.GetLogger()

	keys = UniqueSlice(keys)
	sort.Strings(keys)

	ttl := config.LedgerLockTTL()
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(ttl/(50*time.Millisecond))),
	}

	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		// release in reverse acquisition order; a fresh context so a cancelled request still frees its locks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(releaseCtx)
		}
	}

	for _, key := range keys {
		lock, err := locker.Obtain(ctx, key, ttl, opts)
		if err == redislock.ErrNotObtained {
			release()
			config.LogError(logger, moduleName, functionName, "Could not obtain ledger lock", key, err)
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		} else if err != nil {
			release()
			config.LogError(logger, moduleName, functionName, "Error obtaining ledger lock", key, err)
			return nil, ClassifyStorageError(err)
		}
		held = append(held, lock)
	}
	return release, nil
}
