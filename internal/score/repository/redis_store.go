package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redlight/internal/common/cache"
	"redlight/internal/score/model"
)

const (
	teamKeyPrefix   = "team:"
	recordKeyPrefix = "score:record:"
	dedupKeyPrefix  = "score:dedup:"

	defaultDedupTTL = 24 * time.Hour
)

// applyScript returns -1 when the team is missing, -2 for a replayed key,
// otherwise the aggregate as HGETALL pairs.
//
// KEYS: team hash, record key, dedup key
// ARGV: idempotency key, record json, round field, score, dedup ttl seconds
var applyScript = cache.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if ARGV[1] ~= '' then
	if not redis.call('SET', KEYS[3], '1', 'NX', 'EX', ARGV[5]) then
		return -2
	end
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('HINCRBY', KEYS[1], ARGV[3], ARGV[4])
redis.call('HINCRBY', KEYS[1], 'overall', ARGV[4])
return redis.call('HGETALL', KEYS[1])
`)

// RedisStore keeps team aggregates as hashes and applies increments in one script.
type RedisStore struct {
	cache    cache.Cache
	dedupTTL time.Duration
}

func NewRedisStore(cacheClient cache.Cache, dedupTTL time.Duration) *RedisStore {
	if dedupTTL <= 0 {
		dedupTTL = defaultDedupTTL
	}
	return &RedisStore{cache: cacheClient, dedupTTL: dedupTTL}
}

func (s *RedisStore) Apply(ctx context.Context, inc Increment) (model.TeamAggregate, error) {
	if err := ValidateRound(inc.Round); err != nil {
		return model.TeamAggregate{}, err
	}
	teamID := inc.Record.TeamID
	record, err := json.Marshal(inc.Record)
	if err != nil {
		return model.TeamAggregate{}, fmt.Errorf("marshal score record failed: %w", err)
	}

	keys := []string{
		teamKey(teamID),
		recordKeyPrefix + inc.Record.ParticipantID,
		dedupKeyPrefix + teamID + ":" + inc.IdempotencyKey,
	}
	res, err := s.cache.Eval(ctx, applyScript, keys,
		inc.IdempotencyKey,
		string(record),
		inc.Round,
		inc.Record.Score,
		ttlSeconds(s.dedupTTL),
	)
	if err != nil {
		return model.TeamAggregate{}, err
	}

	switch v := res.(type) {
	case int64:
		switch v {
		case -1:
			return model.TeamAggregate{}, ErrTeamNotFound
		case -2:
			return model.TeamAggregate{}, ErrDuplicateSubmission
		}
		return model.TeamAggregate{}, fmt.Errorf("unexpected script status %d", v)
	case []interface{}:
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			field, _ := v[i].(string)
			value, _ := v[i+1].(string)
			fields[field] = value
		}
		return aggregateFromFields(teamID, fields), nil
	default:
		return model.TeamAggregate{}, fmt.Errorf("unexpected script result %T", res)
	}
}

func (s *RedisStore) GetTeam(ctx context.Context, teamID string) (model.TeamAggregate, error) {
	fields, err := s.cache.HGetAll(ctx, teamKey(teamID))
	if err != nil {
		return model.TeamAggregate{}, err
	}
	if len(fields) == 0 {
		return model.TeamAggregate{}, ErrTeamNotFound
	}
	return aggregateFromFields(teamID, fields), nil
}

func (s *RedisStore) GetRecord(ctx context.Context, participantID string) (model.ScoreRecord, error) {
	raw, err := s.cache.Get(ctx, recordKeyPrefix+participantID)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	if raw == "" {
		return model.ScoreRecord{}, ErrRecordNotFound
	}
	var record model.ScoreRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return model.ScoreRecord{}, fmt.Errorf("unmarshal score record failed: %w", err)
	}
	return record, nil
}

// CreateTeam registers an empty aggregate. Existing teams are left unchanged.
func (s *RedisStore) CreateTeam(ctx context.Context, teamID string) error {
	_, err := s.cache.Eval(ctx, createTeamScript, []string{teamKey(teamID)}, model.OverallField)
	return err
}

var createTeamScript = cache.NewScript(`
return redis.call('HSETNX', KEYS[1], ARGV[1], 0)
`)

// ttlSeconds converts d for EX, rounding up so a sub-second TTL never becomes EX 0.
func ttlSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func teamKey(teamID string) string {
	return teamKeyPrefix + teamID
}

func aggregateFromFields(teamID string, fields map[string]string) model.TeamAggregate {
	agg := model.TeamAggregate{TeamID: teamID, Rounds: make(map[string]int64)}
	for field, raw := range fields {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case field == model.OverallField:
			agg.Overall = value
		case strings.HasPrefix(field, "round"):
			agg.Rounds[field] = value
		}
	}
	return agg
}

var _ ScoreStore = (*RedisStore)(nil)
