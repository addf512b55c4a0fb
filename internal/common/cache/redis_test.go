package cache_test

import (
	"context"
	"testing"
	"time"

	"redlight/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGetMissingKeyReturnsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	value, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestRedisCacheEvalRunsScriptAtomically(t *testing.T) {
	c, mr := newTestCache(t)
	mr.HSet("team:1", "overall", "40")

	script := cache.NewScript(`return redis.call("HINCRBY", KEYS[1], "overall", ARGV[1])`)
	got, err := c.Eval(context.Background(), script, []string{"team:1"}, 5)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if got.(int64) != 45 {
		t.Fatalf("expected 45, got %v", got)
	}
	// second run goes through EVALSHA
	if _, err := c.Eval(context.Background(), script, []string{"team:1"}, 5); err != nil {
		t.Fatalf("eval sha failed: %v", err)
	}
	if v := mr.HGet("team:1", "overall"); v != "50" {
		t.Fatalf("expected 50, got %s", v)
	}
}

func TestRedisCacheSubscribeDeliversPublishedMessages(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "signal")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	if _, err := c.Publish(ctx, "signal", `{"current":"red"}`); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Payload != `{"current":"red"}` {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Close is idempotent
	if err := sub.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestRedisCacheLeaderboardOrder(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	_, _ = c.ZIncrBy(ctx, "lb", 7, "a")
	_, _ = c.ZIncrBy(ctx, "lb", 12, "b")
	_, _ = c.ZIncrBy(ctx, "lb", 3, "a")

	members, err := c.ZRevRangeWithScores(ctx, "lb", 0, -1)
	if err != nil {
		t.Fatalf("zrevrange failed: %v", err)
	}
	if len(members) != 2 || members[0].Member != "b" || members[0].Score != 12 || members[1].Score != 10 {
		t.Fatalf("unexpected members %+v", members)
	}
}

func TestJitterTTLStaysWithinTenPercent(t *testing.T) {
	ttl := 10 * time.Minute
	for i := 0; i < 50; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jittered ttl %v out of range", got)
		}
	}
}

func TestReadThroughCachesValuesAndAbsence(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	loads := 0
	reader := cache.ReadThrough[[]string]{
		Cache:    c,
		TTL:      time.Minute,
		EmptyTTL: 10 * time.Second,
		IsEmpty:  func(v []string) bool { return len(v) == 0 },
	}

	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"q1", "q2"}, nil
	}
	for i := 0; i < 2; i++ {
		got, err := reader.Get(ctx, "list", load)
		if err != nil || len(got) != 2 {
			t.Fatalf("unexpected result %v %v", got, err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected one source load, got %d", loads)
	}

	empty := func(context.Context) ([]string, error) { return nil, nil }
	if _, err := reader.Get(ctx, "none", empty); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if raw, _ := mr.Get("none"); raw != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", raw)
	}
	if ttl := mr.TTL("none"); ttl > 10*time.Second || ttl < 9*time.Second {
		t.Fatalf("unexpected empty ttl %v", ttl)
	}
}
