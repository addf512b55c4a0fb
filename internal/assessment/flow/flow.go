// Package flow ties one question's session to the runner, the grader and the
// score recorder.
package flow

import (
	"context"
	"errors"
	"sync"

	"redlight/internal/assessment/evaluation"
	"redlight/internal/assessment/execution"
	"redlight/internal/assessment/outcome"
	"redlight/internal/assessment/session"
	"redlight/internal/score/service"
	"redlight/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner executes code remotely.
type Runner interface {
	Run(ctx context.Context, code string) execution.RunOutcome
}

// Grader evaluates a candidate against the reference solution.
type Grader interface {
	Evaluate(ctx context.Context, referenceCode, candidateCode string) evaluation.Outcome
}

// Recorder folds a score into the participant's team.
type Recorder interface {
	Record(ctx context.Context, in service.RecordInput) service.RecordOutcome
}

// Config wires a Flow.
type Config struct {
	Session           *session.Session
	Runner            Runner
	Grader            Grader
	Recorder          Recorder
	ParticipantID     string
	TeamID            string
	QuestionID        string
	ReferenceSolution string
	// NewKey mints one idempotency key per submit action; defaults to uuid.
	NewKey func() string
}

// SubmitResult reports a submit action. Record is nil when evaluation did not
// succeed, in which case nothing was recorded.
type SubmitResult struct {
	Evaluation evaluation.Outcome
	Record     *service.RecordOutcome
}

// Flow drives run and submit for one open question.
type Flow struct {
	cfg Config

	mu      sync.Mutex
	pending *service.RecordInput
}

// New validates cfg.
func New(cfg Config) (*Flow, error) {
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Runner == nil || cfg.Grader == nil || cfg.Recorder == nil {
		return nil, errors.New("runner, grader and recorder are required")
	}
	if cfg.NewKey == nil {
		cfg.NewKey = uuid.NewString
	}
	return &Flow{cfg: cfg}, nil
}

// Session returns the flow's session.
func (f *Flow) Session() *session.Session {
	return f.cfg.Session
}

// Run executes the live buffer.
func (f *Flow) Run(ctx context.Context) execution.RunOutcome {
	return f.cfg.Runner.Run(ctx, f.cfg.Session.Code())
}

// Submit grades the live buffer and, only when grading succeeds, records the
// score under a fresh idempotency key.
func (f *Flow) Submit(ctx context.Context) SubmitResult {
	code := f.cfg.Session.Code()
	eval := f.cfg.Grader.Evaluate(ctx, f.cfg.ReferenceSolution, code)
	if eval.Kind != outcome.OK {
		return SubmitResult{Evaluation: eval}
	}

	in := service.RecordInput{
		ParticipantID:  f.cfg.ParticipantID,
		TeamID:         f.cfg.TeamID,
		QuestionID:     f.cfg.QuestionID,
		Score:          eval.Score,
		Verdict:        eval.Verdict,
		SourceCode:     code,
		IdempotencyKey: f.cfg.NewKey(),
	}
	rec := f.record(ctx, in)
	return SubmitResult{Evaluation: eval, Record: &rec}
}

// RetryRecord resends the last recording that failed with a retryable
// outcome. The same idempotency key is reused so a score is never counted twice.
func (f *Flow) RetryRecord(ctx context.Context) (service.RecordOutcome, bool) {
	f.mu.Lock()
	pending := f.pending
	f.mu.Unlock()
	if pending == nil {
		return service.RecordOutcome{}, false
	}
	return f.record(ctx, *pending), true
}

func (f *Flow) record(ctx context.Context, in service.RecordInput) service.RecordOutcome {
	rec := f.cfg.Recorder.Record(ctx, in)

	f.mu.Lock()
	if rec.Kind.Retryable() {
		f.pending = &in
	} else {
		f.pending = nil
	}
	f.mu.Unlock()

	if rec.Kind != outcome.OK {
		logger.Warn(ctx, "score not recorded",
			zap.String("kind", string(rec.Kind)),
			zap.String("question_id", in.QuestionID),
			zap.String("message", rec.Message),
		)
	}
	return rec
}
