package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduplicator(t *testing.T) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return NewDeduplicator(rdb, time.Minute), s
}

func TestDeduplicator_Claim(t *testing.T) {
	d, _ := newTestDeduplicator(t)
	ctx := context.Background()

	dup, err := d.Claim(ctx, 1, "1234567890_987654321")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if dup {
		t.Fatalf("expected first to be non-duplicate")
	}

	dup, err = d.Claim(ctx, 1, "1234567890_987654321")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if !dup {
		t.Fatalf("expected second to be duplicate")
	}

	dup, err = d.Claim(ctx, 2, "1234567890_987654321")
	if err != nil {
		t.Fatalf("other task claim: %v", err)
	}
	if dup {
		t.Fatalf("claims are scoped per task")
	}
}

func TestDeduplicator_ReleaseAndExpiry(t *testing.T) {
	d, s := newTestDeduplicator(t)
	ctx := context.Background()

	if _, err := d.Claim(ctx, 3, "post-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := d.Release(ctx, 3, "post-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if dup, _ := d.Claim(ctx, 3, "post-a"); dup {
		t.Fatalf("released claim must be claimable again")
	}

	s.FastForward(2 * time.Minute)
	if dup, _ := d.Claim(ctx, 3, "post-a"); dup {
		t.Fatalf("expired claim must be claimable again")
	}
}

func TestDeduplicator_ForgetTask(t *testing.T) {
	d, s := newTestDeduplicator(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := d.Claim(ctx, 7, id); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	if _, err := d.Claim(ctx, 8, "a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := d.ForgetTask(ctx, 7); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if got := len(s.Keys()); got != 1 {
		t.Fatalf("expected only task 8 claim to remain, got %d keys", got)
	}
}

func TestDeduplicator_NilAndEmpty(t *testing.T) {
	var d *Deduplicator
	if dup, err := d.Claim(context.Background(), 1, "x"); dup || err != nil {
		t.Fatalf("nil deduplicator must be a no-op")
	}
	d2, _ := newTestDeduplicator(t)
	if dup, _ := d2.Claim(context.Background(), 1, ""); dup {
		t.Fatalf("empty external id is never a duplicate")
	}
	if dup, _ := d2.Claim(context.Background(), 1, ""); dup {
		t.Fatalf("empty external id is never a duplicate")
	}
}
