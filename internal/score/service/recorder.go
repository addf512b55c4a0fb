package service

import (
	"context"
	"errors"
	"time"

	"redlight/internal/assessment/outcome"
	"redlight/internal/score/model"
	"redlight/internal/score/repository"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	defaultRound             = "round4"
	defaultStoreTimeout      = 5 * time.Second
	defaultSideEffectTimeout = 10 * time.Second
)

// Archiver persists the source and verdict of an accepted submission.
type Archiver interface {
	Store(ctx context.Context, sub model.ArchivedSubmission, idempotencyKey string) (string, error)
}

// EventPublisher announces recorded scores.
type EventPublisher interface {
	PublishScoreRecorded(ctx context.Context, event model.ScoreRecordedEvent) error
}

// RecorderOptions configures a Recorder. Archive and Events are optional.
type RecorderOptions struct {
	Round             string
	StoreTimeout      time.Duration
	SideEffectTimeout time.Duration
	Clock             clockwork.Clock
	Archive           Archiver
	Events            EventPublisher
	// MaxScore caps a single submission; zero leaves it uncapped.
	MaxScore int
}

// RecordInput is one evaluated submission.
type RecordInput struct {
	ParticipantID  string
	TeamID         string
	QuestionID     string
	Score          int
	Verdict        string
	SourceCode     string
	IdempotencyKey string
}

// RecordOutcome is the single terminal result of Record.
type RecordOutcome struct {
	Kind outcome.Kind
	// Applied is the score folded into the aggregate; 0 unless Kind is OK.
	Applied int
	// Verdict is the grader's text for a graded submission.
	Verdict   string
	Aggregate model.TeamAggregate
	Message   string
	Err       error
}

// Recorder writes participant scores and folds them into team aggregates.
type Recorder struct {
	store             repository.ScoreStore
	archive           Archiver
	events            EventPublisher
	clock             clockwork.Clock
	round             string
	storeTimeout      time.Duration
	sideEffectTimeout time.Duration
	maxScore          int
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store repository.ScoreStore, opts RecorderOptions) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("score store is nil")
	}
	if opts.Round == "" {
		opts.Round = defaultRound
	}
	if err := repository.ValidateRound(opts.Round); err != nil {
		return nil, err
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = defaultSideEffectTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxScore < 0 {
		return nil, errors.New("max score must not be negative")
	}
	return &Recorder{
		store:             store,
		archive:           opts.Archive,
		events:            opts.Events,
		clock:             opts.Clock,
		round:             opts.Round,
		storeTimeout:      opts.StoreTimeout,
		sideEffectTimeout: opts.SideEffectTimeout,
		maxScore:          opts.MaxScore,
	}, nil
}

// Round returns the aggregate field this recorder increments.
func (r *Recorder) Round() string {
	return r.round
}

// Record stores the participant's score and increments the team's round and
// overall totals together. A missing team is reported and never retried.
func (r *Recorder) Record(ctx context.Context, in RecordInput) RecordOutcome {
	if in.ParticipantID == "" {
		return failedRecord(outcome.Failed, pkgerrors.New(pkgerrors.RequiredFieldEmpty).WithMessage("participant id is required"))
	}
	if in.TeamID == "" {
		return failedRecord(outcome.TeamNotFound, pkgerrors.New(pkgerrors.TeamNotFound))
	}
	if in.Score < 0 {
		return failedRecord(outcome.Failed, pkgerrors.New(pkgerrors.InvalidScore))
	}
	if r.maxScore > 0 && in.Score > r.maxScore {
		return failedRecord(outcome.Failed, pkgerrors.Newf(pkgerrors.InvalidScore, "Score must not exceed %d", r.maxScore))
	}

	now := r.clock.Now().UTC()
	inc := repository.Increment{
		Record: model.ScoreRecord{
			ParticipantID: in.ParticipantID,
			TeamID:        in.TeamID,
			QuestionID:    in.QuestionID,
			Score:         in.Score,
			RecordedAt:    now,
		},
		Round:          r.round,
		IdempotencyKey: in.IdempotencyKey,
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	agg, err := r.store.Apply(storeCtx, inc)
	cancel()
	if err != nil {
		return r.classify(ctx, in, err)
	}

	logger.Info(ctx, "score recorded",
		zap.String("team_id", in.TeamID),
		zap.String("participant_id", in.ParticipantID),
		zap.String("round", r.round),
		zap.Int("score", in.Score),
		zap.Int64("round_total", agg.Round(r.round)),
		zap.Int64("overall_total", agg.Overall),
	)
	r.afterRecord(ctx, in, agg, now)

	return RecordOutcome{Kind: outcome.OK, Applied: in.Score, Verdict: in.Verdict, Aggregate: agg}
}

// GetTeam returns a team's aggregate.
func (r *Recorder) GetTeam(ctx context.Context, teamID string) (model.TeamAggregate, error) {
	if teamID == "" {
		return model.TeamAggregate{}, pkgerrors.New(pkgerrors.TeamNotFound)
	}
	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	agg, err := r.store.GetTeam(storeCtx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrTeamNotFound) {
			return model.TeamAggregate{}, pkgerrors.New(pkgerrors.TeamNotFound)
		}
		return model.TeamAggregate{}, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return agg, nil
}

func (r *Recorder) classify(ctx context.Context, in RecordInput, err error) RecordOutcome {
	switch {
	case errors.Is(err, repository.ErrTeamNotFound):
		logger.Warn(ctx, "score rejected, team not found", zap.String("team_id", in.TeamID), zap.String("participant_id", in.ParticipantID))
		return failedRecord(outcome.TeamNotFound, pkgerrors.New(pkgerrors.TeamNotFound))
	case errors.Is(err, repository.ErrDuplicateSubmission):
		logger.Info(ctx, "duplicate submission ignored", zap.String("team_id", in.TeamID), zap.String("idempotency_key", in.IdempotencyKey))
		res := failedRecord(outcome.Duplicate, pkgerrors.New(pkgerrors.DuplicateSubmission))
		if agg, getErr := r.GetTeam(ctx, in.TeamID); getErr == nil {
			res.Aggregate = agg
		}
		return res
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error(ctx, "score store timed out", zap.String("team_id", in.TeamID), zap.Error(err))
		return failedRecord(outcome.Timeout, pkgerrors.Wrap(err, pkgerrors.Timeout))
	default:
		logger.Error(ctx, "record score failed", zap.String("team_id", in.TeamID), zap.Error(err))
		return failedRecord(outcome.Failed, pkgerrors.Wrap(err, pkgerrors.ScoreRecordFailed).WithMessage(pkgerrors.ScoreRecordFailed.Message()))
	}
}

// afterRecord archives the submission and publishes the event. Failures are
// logged only; the score is already committed.
func (r *Recorder) afterRecord(ctx context.Context, in RecordInput, agg model.TeamAggregate, at time.Time) {
	if r.archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, r.sideEffectTimeout)
		key, err := r.archive.Store(archiveCtx, model.ArchivedSubmission{
			ParticipantID: in.ParticipantID,
			TeamID:        in.TeamID,
			QuestionID:    in.QuestionID,
			Round:         r.round,
			Score:         in.Score,
			Verdict:       in.Verdict,
			SourceCode:    in.SourceCode,
			RecordedAt:    at,
		}, in.IdempotencyKey)
		cancel()
		if err != nil {
			logger.Warn(ctx, "archive submission failed", zap.String("team_id", in.TeamID), zap.Error(err))
		} else {
			logger.Debug(ctx, "submission archived", zap.String("object_key", key))
		}
	}

	if r.events != nil {
		eventID := uuid.NewString()
		if in.IdempotencyKey != "" {
			eventID = in.TeamID + ":" + in.IdempotencyKey
		}
		pubCtx, cancel := context.WithTimeout(ctx, r.sideEffectTimeout)
		err := r.events.PublishScoreRecorded(pubCtx, model.ScoreRecordedEvent{
			EventType:      model.ScoreRecordedEventType,
			EventID:        eventID,
			TeamID:         in.TeamID,
			ParticipantID:  in.ParticipantID,
			QuestionID:     in.QuestionID,
			Round:          r.round,
			Score:          in.Score,
			RoundTotal:     agg.Round(r.round),
			OverallTotal:   agg.Overall,
			IdempotencyKey: in.IdempotencyKey,
			RecordedAt:     at,
		})
		cancel()
		if err != nil {
			logger.Warn(ctx, "publish score event failed", zap.String("team_id", in.TeamID), zap.Error(err))
		}
	}
}

func failedRecord(kind outcome.Kind, err *pkgerrors.Error) RecordOutcome {
	return RecordOutcome{Kind: kind, Message: err.Error(), Err: err}
}
