package service

import (
	"context"
	"errors"
	"strings"

	"redlight/internal/assessment/evaluation"
	"redlight/internal/assessment/outcome"
	catalogrepo "redlight/internal/catalog/repository"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"go.uber.org/zap"
)

// QuestionSource looks up a published question and its reference solution.
type QuestionSource interface {
	Get(ctx context.Context, id string) (catalogrepo.Question, error)
}

// Evaluator grades a candidate against a reference solution.
type Evaluator interface {
	Evaluate(ctx context.Context, referenceCode, candidateCode string) evaluation.Outcome
}

// SubmitInput is one raw submission received by the service.
type SubmitInput struct {
	ParticipantID  string
	TeamID         string
	QuestionID     string
	SourceCode     string
	IdempotencyKey string
}

// SubmissionService grades submissions itself and records the resulting
// score. Callers never supply the score.
type SubmissionService struct {
	questions QuestionSource
	evaluator Evaluator
	recorder  *Recorder
}

// NewSubmissionService creates a SubmissionService.
func NewSubmissionService(questions QuestionSource, evaluator Evaluator, recorder *Recorder) (*SubmissionService, error) {
	if questions == nil || evaluator == nil || recorder == nil {
		return nil, errors.New("question source, evaluator and recorder are required")
	}
	return &SubmissionService{questions: questions, evaluator: evaluator, recorder: recorder}, nil
}

// Submit grades in.SourceCode against the question's reference solution and
// records the grader's score. Nothing is recorded unless grading succeeds.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) RecordOutcome {
	if strings.TrimSpace(in.QuestionID) == "" {
		return failedRecord(outcome.Failed, pkgerrors.ValidationError("question_id", "required"))
	}
	if strings.TrimSpace(in.SourceCode) == "" {
		return failedRecord(outcome.Failed, pkgerrors.ValidationError("source_code", "required"))
	}

	q, err := s.questions.Get(ctx, in.QuestionID)
	if err != nil {
		return failedRecord(outcome.Failed, pkgerrors.GetError(err))
	}

	eval := s.evaluator.Evaluate(ctx, q.ReferenceSolution, in.SourceCode)
	if eval.Kind != outcome.OK {
		logger.Info(ctx, "submission not graded",
			zap.String("kind", string(eval.Kind)),
			zap.String("question_id", in.QuestionID),
			zap.String("participant_id", in.ParticipantID),
		)
		return RecordOutcome{Kind: eval.Kind, Message: eval.Message, Err: eval.Err}
	}

	return s.recorder.Record(ctx, RecordInput{
		ParticipantID:  in.ParticipantID,
		TeamID:         in.TeamID,
		QuestionID:     q.ID,
		Score:          eval.Score,
		Verdict:        eval.Verdict,
		SourceCode:     in.SourceCode,
		IdempotencyKey: in.IdempotencyKey,
	})
}
