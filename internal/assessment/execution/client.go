// Package execution sends the live buffer to the remote sandboxed runner.
package execution

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

// FrozenMessage is reported when a run is attempted during red light.
const FrozenMessage = "Cannot run code during red light!"

const defaultRunTimeout = 30 * time.Second

// Gate reports whether running is currently permitted.
type Gate interface {
	CanRun() bool
}

// Config configures the runner endpoint.
type Config struct {
	// Endpoint is the full URL that accepts POST {code}.
	Endpoint string
	Timeout  time.Duration
}

// RunOutcome is the single terminal result of Run.
type RunOutcome struct {
	Kind outcome.Kind
	// Output is the runner's output, verbatim, when Kind is OK.
	Output string
	// Message describes a non-OK outcome for display.
	Message string
	Err     error
}

type runRequest struct {
	Code string `json:"code"`
}

type runResponse struct {
	Output string `json:"output"`
}

// Client runs code remotely when its gate allows it.
type Client struct {
	gate Gate
	http *httpclient.Client
}

// NewClient creates a runner client bound to gate.
func NewClient(cfg Config, gate Gate) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("runner endpoint is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRunTimeout
	}
	return &Client{
		gate: gate,
		http: httpclient.New(cfg.Endpoint, cfg.Timeout, nil),
	}, nil
}

// Run submits code. Permission is checked once, at call time; a freeze that
// arrives while the request is in flight does not discard its result.
func (c *Client) Run(ctx context.Context, code string) RunOutcome {
	if !c.gate.CanRun() {
		return RunOutcome{
			Kind:    outcome.Frozen,
			Message: FrozenMessage,
			Err:     pkgerrors.FrozenError(FrozenMessage),
		}
	}

	body, err := json.Marshal(runRequest{Code: code})
	if err != nil {
		return failed(outcome.Failed, pkgerrors.Wrap(err, pkgerrors.InternalServerError))
	}
	resp, err := c.http.Do(ctx, http.MethodPost, "", nil, body)
	if err != nil {
		if httpclient.IsTimeout(err) {
			logger.Warn(ctx, "runner timed out", zap.Duration("elapsed", resp.Duration))
			return failed(outcome.Timeout, pkgerrors.Wrapf(err, pkgerrors.RunnerTimeout, "Run timed out after %s", resp.Duration.Round(time.Millisecond)))
		}
		logger.Warn(ctx, "runner request failed", zap.Error(err))
		return failed(outcome.TransportFailure, pkgerrors.Wrapf(err, pkgerrors.RunnerUnavailable, "Error: %s", err.Error()))
	}
	if !resp.OK() {
		logger.Warn(ctx, "runner returned error status", zap.Int("status", resp.StatusCode))
		return failed(outcome.TransportFailure, pkgerrors.Newf(pkgerrors.RunnerUnavailable, "HTTP error! Status: %d", resp.StatusCode))
	}

	var out runResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return failed(outcome.TransportFailure, pkgerrors.Wrapf(err, pkgerrors.RunnerUnavailable, "Error: malformed runner response"))
	}
	return RunOutcome{Kind: outcome.OK, Output: out.Output}
}

func failed(kind outcome.Kind, err *pkgerrors.Error) RunOutcome {
	return RunOutcome{Kind: kind, Message: err.Error(), Err: err}
}
