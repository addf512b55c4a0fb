package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"redlight/internal/score/model"
)

var (
	ErrTeamNotFound        = errors.New("team not found")
	ErrDuplicateSubmission = errors.New("submission already applied")
)

var roundPattern = regexp.MustCompile(`^round[0-9]+$`)

// ValidateRound checks that name is usable as an aggregate field.
func ValidateRound(name string) error {
	if !roundPattern.MatchString(name) {
		return fmt.Errorf("invalid round field %q", name)
	}
	return nil
}

// Increment is one accepted submission to fold into a team aggregate.
type Increment struct {
	Record model.ScoreRecord
	Round  string
	// IdempotencyKey, when set, is applied at most once per team.
	IdempotencyKey string
}

// ScoreStore writes participant records and team aggregates.
//
// Apply writes the record and increments both the round and the overall
// totals as one unit. It returns ErrTeamNotFound when the team has no
// aggregate and ErrDuplicateSubmission when the key was already applied; in
// both cases nothing is written.
type ScoreStore interface {
	Apply(ctx context.Context, inc Increment) (model.TeamAggregate, error)
	GetTeam(ctx context.Context, teamID string) (model.TeamAggregate, error)
	GetRecord(ctx context.Context, participantID string) (model.ScoreRecord, error)
}

// ErrRecordNotFound is returned by GetRecord for a participant without a score.
var ErrRecordNotFound = errors.New("score record not found")

// TeamSeeder registers empty teams ahead of the assessment.
type TeamSeeder interface {
	CreateTeam(ctx context.Context, teamID string) error
}
