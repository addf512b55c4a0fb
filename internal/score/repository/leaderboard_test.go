package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"redlight/internal/score/repository"
)

func TestLeaderboardAppliesEventOnce(t *testing.T) {
	_, c, _ := newRedisStore(t)
	board := repository.NewLeaderboardRepository(c, time.Hour)
	ctx := context.Background()

	for _, step := range []struct {
		team, event string
		score       int
		applied     bool
	}{
		{"t1", "e1", 5, true},
		{"t2", "e2", 9, true},
		{"t1", "e3", 7, true},
		{"t1", "e1", 5, false},
	} {
		applied, err := board.Add(ctx, "round4", step.team, step.event, step.score)
		if err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if applied != step.applied {
			t.Fatalf("event %s: applied=%v, want %v", step.event, applied, step.applied)
		}
	}

	top, err := board.Top(ctx, "round4", 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 standings, got %d", len(top))
	}
	if top[0].TeamID != "t1" || top[0].Score != 12 || top[0].Rank != 1 {
		t.Fatalf("unexpected leader %+v", top[0])
	}
	if top[1].TeamID != "t2" || top[1].Score != 9 || top[1].Rank != 2 {
		t.Fatalf("unexpected runner-up %+v", top[1])
	}
}

func TestLeaderboardEmptyRound(t *testing.T) {
	_, c, _ := newRedisStore(t)
	board := repository.NewLeaderboardRepository(c, 0)

	top, err := board.Top(context.Background(), "round1", 0)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(top) != 0 {
		t.Fatalf("expected empty leaderboard, got %v", top)
	}
}

func TestLeaderboardConcurrentReplaysApplyOnce(t *testing.T) {
	_, c, mr := newRedisStore(t)
	board := repository.NewLeaderboardRepository(c, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := board.Add(context.Background(), "round4", "t1", "e1", 5)
			if err != nil {
				t.Errorf("add failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one application, got %d", applied)
	}
	if score, _ := mr.ZScore("leaderboard:round4", "t1"); score != 5 {
		t.Fatalf("expected score 5, got %v", score)
	}
	if ttl := mr.TTL("leaderboard:applied:e1"); ttl != time.Hour {
		t.Fatalf("expected applied marker ttl 1h, got %s", ttl)
	}
}

func TestLeaderboardFailedIncrementLeavesEventRetryable(t *testing.T) {
	_, c, mr := newRedisStore(t)
	board := repository.NewLeaderboardRepository(c, time.Hour)
	_ = mr.Set("leaderboard:round4", "not a zset")

	if _, err := board.Add(context.Background(), "round4", "t1", "e1", 5); err == nil {
		t.Fatalf("expected wrong-type error")
	}
	if mr.Exists("leaderboard:applied:e1") {
		t.Fatalf("failed increment must not mark the event applied")
	}

	mr.Del("leaderboard:round4")
	ok, err := board.Add(context.Background(), "round4", "t1", "e1", 5)
	if err != nil || !ok {
		t.Fatalf("expected retry to apply, got applied=%v err=%v", ok, err)
	}
}
