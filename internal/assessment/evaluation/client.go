// Package evaluation sends a reference and a candidate solution to the grading
// service and derives the numeric score from its verdict.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"redlight/internal/assessment/outcome"
	"redlight/internal/common/httpclient"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"go.uber.org/zap"
)

// FrozenMessage is reported when a submission is attempted during red light.
const FrozenMessage = "Cannot submit code during red light!"

const defaultEvaluateTimeout = 60 * time.Second

// Gate reports whether submitting is currently permitted.
type Gate interface {
	CanSubmit() bool
}

// Config configures the grader endpoint.
type Config struct {
	// Endpoint is the full URL that accepts POST {teacher_code, student_code}.
	Endpoint string
	Timeout  time.Duration
}

// Outcome is the single terminal result of Evaluate.
type Outcome struct {
	Kind outcome.Kind
	// Verdict is the grader's text when Kind is OK.
	Verdict string
	// Score is parsed from Verdict; 0 when the verdict has none.
	Score   int
	Message string
	Err     error
}

type evaluateRequest struct {
	ReferenceCode string `json:"teacher_code"`
	CandidateCode string `json:"student_code"`
}

type evaluateResponse struct {
	Result string `json:"result"`
}

// Client grades submissions when its gate allows it.
type Client struct {
	gate Gate
	http *httpclient.Client
}

// NewClient creates a grader client bound to gate.
func NewClient(cfg Config, gate Gate) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("grader endpoint is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEvaluateTimeout
	}
	return &Client{
		gate: gate,
		http: httpclient.New(cfg.Endpoint, cfg.Timeout, nil),
	}, nil
}

// Evaluate grades candidateCode against referenceCode.
func (c *Client) Evaluate(ctx context.Context, referenceCode, candidateCode string) Outcome {
	if !c.gate.CanSubmit() {
		return Outcome{
			Kind:    outcome.Frozen,
			Message: FrozenMessage,
			Err:     pkgerrors.FrozenError(FrozenMessage),
		}
	}

	body, err := json.Marshal(evaluateRequest{ReferenceCode: referenceCode, CandidateCode: candidateCode})
	if err != nil {
		return failed(outcome.Failed, pkgerrors.Wrap(err, pkgerrors.InternalServerError))
	}
	resp, err := c.http.Do(ctx, http.MethodPost, "", nil, body)
	if err != nil {
		if httpclient.IsTimeout(err) {
			logger.Warn(ctx, "grader timed out", zap.Duration("elapsed", resp.Duration))
			return failed(outcome.Timeout, pkgerrors.Wrapf(err, pkgerrors.GraderTimeout, "Evaluation timed out after %s", resp.Duration.Round(time.Millisecond)))
		}
		logger.Warn(ctx, "grader request failed", zap.Error(err))
		return failed(outcome.TransportFailure, pkgerrors.Wrapf(err, pkgerrors.GraderUnavailable, "Error: %s", err.Error()))
	}
	if !resp.OK() {
		logger.Warn(ctx, "grader returned error status", zap.Int("status", resp.StatusCode))
		return failed(outcome.TransportFailure, pkgerrors.Newf(pkgerrors.GraderUnavailable, "HTTP error! Status: %d", resp.StatusCode))
	}

	var out evaluateResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return failed(outcome.TransportFailure, pkgerrors.Wrapf(err, pkgerrors.GraderUnavailable, "Error: malformed grader response"))
	}
	return Outcome{Kind: outcome.OK, Verdict: out.Result, Score: ParseScore(out.Result)}
}

func failed(kind outcome.Kind, err *pkgerrors.Error) Outcome {
	return Outcome{Kind: kind, Message: err.Error(), Err: err}
}
