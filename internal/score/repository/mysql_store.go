package repository

import (
	"context"
	"fmt"

	"redlight/internal/common/db"
	"redlight/internal/score/model"
)

// MySQLStore is the authoritative score store.
//
// Tables:
//
//	teams(id PK, overall_score)
//	team_round_scores(team_id, round, score, PK(team_id, round))
//	participant_scores(participant_id PK, team_id, question_id, score, recorded_at)
//	score_dedup(team_id, idempotency_key, created_at, PK(team_id, idempotency_key))
type MySQLStore struct {
	db db.Database
}

func NewMySQLStore(database db.Database) *MySQLStore {
	return &MySQLStore{db: database}
}

func (s *MySQLStore) Apply(ctx context.Context, inc Increment) (model.TeamAggregate, error) {
	if err := ValidateRound(inc.Round); err != nil {
		return model.TeamAggregate{}, err
	}
	rec := inc.Record

	var agg model.TeamAggregate
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		// Row lock on the team serializes concurrent increments.
		var lockedID string
		err := tx.QueryRow(ctx, "SELECT id FROM teams WHERE id = ? FOR UPDATE", rec.TeamID).Scan(&lockedID)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrTeamNotFound
			}
			return err
		}

		if inc.IdempotencyKey != "" {
			_, err := tx.Exec(ctx,
				"INSERT INTO score_dedup (team_id, idempotency_key, created_at) VALUES (?, ?, ?)",
				rec.TeamID, inc.IdempotencyKey, rec.RecordedAt)
			if err != nil {
				if _, dup := db.UniqueViolation(err); dup {
					return ErrDuplicateSubmission
				}
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO participant_scores (participant_id, team_id, question_id, score, recorded_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE team_id = VALUES(team_id), question_id = VALUES(question_id),
				score = VALUES(score), recorded_at = VALUES(recorded_at)`,
			rec.ParticipantID, rec.TeamID, rec.QuestionID, rec.Score, rec.RecordedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			"UPDATE teams SET overall_score = overall_score + ? WHERE id = ?",
			rec.Score, rec.TeamID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO team_round_scores (team_id, round, score) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE score = score + VALUES(score)`,
			rec.TeamID, inc.Round, rec.Score); err != nil {
			return err
		}

		agg, err = loadAggregate(ctx, tx, rec.TeamID)
		return err
	})
	if err != nil {
		return model.TeamAggregate{}, err
	}
	return agg, nil
}

func (s *MySQLStore) GetTeam(ctx context.Context, teamID string) (model.TeamAggregate, error) {
	return loadAggregate(ctx, s.db, teamID)
}

func (s *MySQLStore) GetRecord(ctx context.Context, participantID string) (model.ScoreRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT participant_id, team_id, question_id, score, recorded_at
		FROM participant_scores WHERE participant_id = ?`, participantID)
	var rec model.ScoreRecord
	if err := row.Scan(&rec.ParticipantID, &rec.TeamID, &rec.QuestionID, &rec.Score, &rec.RecordedAt); err != nil {
		if db.IsNoRows(err) {
			return model.ScoreRecord{}, ErrRecordNotFound
		}
		return model.ScoreRecord{}, err
	}
	return rec, nil
}

// CreateTeam inserts an empty team. Existing teams are left untouched.
func (s *MySQLStore) CreateTeam(ctx context.Context, teamID string) error {
	if teamID == "" {
		return fmt.Errorf("team id is required")
	}
	_, err := s.db.Exec(ctx, "INSERT IGNORE INTO teams (id, overall_score) VALUES (?, 0)", teamID)
	return err
}

func loadAggregate(ctx context.Context, q db.Querier, teamID string) (model.TeamAggregate, error) {
	agg := model.TeamAggregate{TeamID: teamID, Rounds: make(map[string]int64)}
	if err := q.QueryRow(ctx, "SELECT overall_score FROM teams WHERE id = ?", teamID).Scan(&agg.Overall); err != nil {
		if db.IsNoRows(err) {
			return model.TeamAggregate{}, ErrTeamNotFound
		}
		return model.TeamAggregate{}, err
	}

	rows, err := q.Query(ctx, "SELECT round, score FROM team_round_scores WHERE team_id = ?", teamID)
	if err != nil {
		return model.TeamAggregate{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var round string
		var score int64
		if err := rows.Scan(&round, &score); err != nil {
			return model.TeamAggregate{}, fmt.Errorf("scan round score failed: %w", err)
		}
		agg.Rounds[round] = score
	}
	if err := rows.Err(); err != nil {
		return model.TeamAggregate{}, err
	}
	return agg, nil
}

var _ ScoreStore = (*MySQLStore)(nil)
