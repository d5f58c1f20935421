package idempotency

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, ttl), mr
}

func TestTryLock_FirstCallerWins(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	locked, err := store.TryLock(ctx, "checkout", "key-1")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !locked {
		t.Fatal("expected first caller to win the lock")
	}

	locked, err = store.TryLock(ctx, "checkout", "key-1")
	if err != nil {
		t.Fatalf("TryLock retry: %v", err)
	}
	if locked {
		t.Fatal("expected second caller to lose the lock")
	}
}

func TestTryLock_ScopesAreIndependent(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	if locked, err := store.TryLock(ctx, "checkout", "key-1"); err != nil || !locked {
		t.Fatalf("TryLock checkout: locked=%v err=%v", locked, err)
	}
	if locked, err := store.TryLock(ctx, "payment", "key-1"); err != nil || !locked {
		t.Fatalf("TryLock payment: locked=%v err=%v", locked, err)
	}
}

func TestRememberRecall(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	if _, found, err := store.Recall(ctx, "checkout", "key-1"); err != nil || found {
		t.Fatalf("Recall before Remember: found=%v err=%v", found, err)
	}

	if err := store.Remember(ctx, "checkout", "key-1", `{"saleId":1}`); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	val, found, err := store.Recall(ctx, "checkout", "key-1")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if !found || val != `{"saleId":1}` {
		t.Fatalf("unexpected recall: found=%v val=%q", found, val)
	}
}

func TestLockExpiresAfterTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	if locked, err := store.TryLock(ctx, "checkout", "key-1"); err != nil || !locked {
		t.Fatalf("TryLock: locked=%v err=%v", locked, err)
	}
	if err := store.Remember(ctx, "checkout", "key-1", "resp"); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if locked, err := store.TryLock(ctx, "checkout", "key-1"); err != nil || !locked {
		t.Fatalf("expected lock to expire: locked=%v err=%v", locked, err)
	}
	if _, found, err := store.Recall(ctx, "checkout", "key-1"); err != nil || found {
		t.Fatalf("expected remembered value to expire: found=%v err=%v", found, err)
	}
}
