package repository

import (
	"context"
	"fmt"
	"math"
	"time"

	"redlight/internal/common/cache"
	"redlight/internal/score/model"
)

const (
	leaderboardKeyPrefix = "leaderboard:"
	appliedKeyPrefix     = "leaderboard:applied:"

	defaultAppliedTTL = 24 * time.Hour
)

// LeaderboardRepository keeps one sorted set of team totals per round.
type LeaderboardRepository struct {
	cache      cache.Cache
	appliedTTL time.Duration
}

func NewLeaderboardRepository(cacheClient cache.Cache, appliedTTL time.Duration) *LeaderboardRepository {
	if appliedTTL <= 0 {
		appliedTTL = defaultAppliedTTL
	}
	return &LeaderboardRepository{cache: cacheClient, appliedTTL: appliedTTL}
}

// addScript returns 1 when the increment was applied and 0 for a replayed
// event. The marker is written only after ZINCRBY succeeds.
//
// KEYS: leaderboard zset, applied marker
// ARGV: event id, score, team id, marker ttl seconds
var addScript = cache.NewScript(`
if ARGV[1] ~= '' and redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('ZINCRBY', KEYS[1], ARGV[2], ARGV[3])
if ARGV[1] ~= '' then
	redis.call('SET', KEYS[2], '1', 'EX', ARGV[4])
end
return 1
`)

// Add increments teamID's total for round once per eventID.
// It reports false when the event had already been applied.
func (r *LeaderboardRepository) Add(ctx context.Context, round, teamID, eventID string, score int) (bool, error) {
	res, err := r.cache.Eval(ctx, addScript,
		[]string{leaderboardKeyPrefix + round, appliedKeyPrefix + eventID},
		eventID,
		score,
		teamID,
		ttlSeconds(r.appliedTTL),
	)
	if err != nil {
		return false, err
	}
	applied, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result %T", res)
	}
	return applied == 1, nil
}

// Top returns the best limit teams of round, highest first.
func (r *LeaderboardRepository) Top(ctx context.Context, round string, limit int) ([]model.Standing, error) {
	if limit <= 0 {
		limit = 10
	}
	members, err := r.cache.ZRevRangeWithScores(ctx, leaderboardKeyPrefix+round, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	standings := make([]model.Standing, 0, len(members))
	for i, m := range members {
		standings = append(standings, model.Standing{
			Rank:   i + 1,
			TeamID: m.Member,
			Score:  int64(math.Round(m.Score)),
		})
	}
	return standings, nil
}
