package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"redlight/internal/common/cache"
	"redlight/internal/score/model"
	"redlight/internal/score/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*repository.RedisStore, *cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return repository.NewRedisStore(c, time.Hour), c, mr
}

func increment(team, participant string, score int, key string) repository.Increment {
	return repository.Increment{
		Record: model.ScoreRecord{
			ParticipantID: participant,
			TeamID:        team,
			Score:         score,
			RecordedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		Round:          "round4",
		IdempotencyKey: key,
	}
}

func TestRedisStoreConcurrentIncrementsAreNotLost(t *testing.T) {
	store, _, mr := newRedisStore(t)
	mr.HSet("team:t1", "round4", "10")
	mr.HSet("team:t1", "overall", "40")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, participant := range []string{"p1", "p2"} {
		wg.Add(1)
		go func(participant string) {
			defer wg.Done()
			_, err := store.Apply(context.Background(), increment("t1", participant, 5, ""))
			errs <- err
		}(participant)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}

	agg, err := store.GetTeam(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get team failed: %v", err)
	}
	if agg.Round("round4") != 20 || agg.Overall != 50 {
		t.Fatalf("expected round4=20 overall=50, got %+v", agg)
	}
}

func TestRedisStoreApplyReturnsUpdatedAggregateAndRecord(t *testing.T) {
	store, _, mr := newRedisStore(t)
	mr.HSet("team:t1", "round1", "3")
	mr.HSet("team:t1", "overall", "3")
	mr.HSet("team:t1", "name", "Ferris")

	agg, err := store.Apply(context.Background(), increment("t1", "p1", 7, "k1"))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if agg.Round("round4") != 7 || agg.Round("round1") != 3 || agg.Overall != 10 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}

	rec, err := store.GetRecord(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get record failed: %v", err)
	}
	if rec.Score != 7 || rec.TeamID != "t1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRedisStoreReplayedKeyAppliesOnce(t *testing.T) {
	store, _, mr := newRedisStore(t)
	mr.HSet("team:t1", "overall", "0")

	if _, err := store.Apply(context.Background(), increment("t1", "p1", 7, "k1")); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	_, err := store.Apply(context.Background(), increment("t1", "p1", 7, "k1"))
	if !errors.Is(err, repository.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	agg, _ := store.GetTeam(context.Background(), "t1")
	if agg.Overall != 7 || agg.Round("round4") != 7 {
		t.Fatalf("replay changed totals: %+v", agg)
	}
}

func TestRedisStoreSubSecondDedupTTLStillExpires(t *testing.T) {
	_, c, mr := newRedisStore(t)
	store := repository.NewRedisStore(c, 300*time.Millisecond)
	mr.HSet("team:t1", "overall", "0")

	if _, err := store.Apply(context.Background(), increment("t1", "p1", 7, "k1")); err != nil {
		t.Fatalf("apply with sub-second dedup ttl failed: %v", err)
	}
	if ttl := mr.TTL("score:dedup:t1:k1"); ttl != time.Second {
		t.Fatalf("expected dedup ttl clamped to 1s, got %s", ttl)
	}
	if _, err := store.Apply(context.Background(), increment("t1", "p1", 7, "k1")); !errors.Is(err, repository.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate within ttl, got %v", err)
	}

	mr.FastForward(time.Second)
	if _, err := store.Apply(context.Background(), increment("t1", "p1", 7, "k1")); err != nil {
		t.Fatalf("expected key usable after ttl, got %v", err)
	}
}

func TestRedisStoreMissingTeamLeavesNoState(t *testing.T) {
	store, _, mr := newRedisStore(t)

	_, err := store.Apply(context.Background(), increment("ghost", "p1", 5, "k1"))
	if !errors.Is(err, repository.ErrTeamNotFound) {
		t.Fatalf("expected team not found, got %v", err)
	}
	if mr.Exists("team:ghost") || mr.Exists("score:record:p1") || mr.Exists("score:dedup:ghost:k1") {
		t.Fatalf("missing team left partial state: %v", mr.Keys())
	}
	if _, err := store.GetRecord(context.Background(), "p1"); !errors.Is(err, repository.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestRedisStoreRejectsInvalidRound(t *testing.T) {
	store, _, mr := newRedisStore(t)
	mr.HSet("team:t1", "overall", "0")

	inc := increment("t1", "p1", 5, "")
	inc.Round = "overall"
	if _, err := store.Apply(context.Background(), inc); err == nil {
		t.Fatalf("expected invalid round error")
	}
}

func TestRedisStoreCreateTeamKeepsExistingTotals(t *testing.T) {
	store, _, mr := newRedisStore(t)
	mr.HSet("team:t1", "overall", "12")

	if err := store.CreateTeam(context.Background(), "t1"); err != nil {
		t.Fatalf("create team failed: %v", err)
	}
	if err := store.CreateTeam(context.Background(), "t2"); err != nil {
		t.Fatalf("create team failed: %v", err)
	}
	if got := mr.HGet("team:t1", "overall"); got != "12" {
		t.Fatalf("existing team overwritten: %s", got)
	}
	agg, err := store.GetTeam(context.Background(), "t2")
	if err != nil || agg.Overall != 0 {
		t.Fatalf("expected empty aggregate, got %+v err=%v", agg, err)
	}
}
