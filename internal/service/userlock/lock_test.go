package userlock

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLock(t *testing.T) *Lock {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestAcquireRelease(t *testing.T) {
	l := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "user-1", "conn-a")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = l.Acquire(ctx, "user-1", "conn-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while lock is held")
	}

	if err := l.Release(ctx, "user-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = l.Acquire(ctx, "user-1", "conn-b")
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestAcquireIsPerUser(t *testing.T) {
	l := newTestLock(t)
	ctx := context.Background()

	if ok, err := l.Acquire(ctx, "user-1", "conn-a"); err != nil || !ok {
		t.Fatalf("acquire user-1: ok=%v err=%v", ok, err)
	}
	if ok, err := l.Acquire(ctx, "user-2", "conn-b"); err != nil || !ok {
		t.Fatalf("expected independent lock for user-2: ok=%v err=%v", ok, err)
	}
}
