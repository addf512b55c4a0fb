// Package apiclient calls the assessment service on behalf of the participant CLI.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"redlight/internal/assessment/outcome"
	"redlight/internal/common/httpclient"
	"redlight/internal/score/model"
	"redlight/internal/score/service"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"go.uber.org/zap"
)

// envelope mirrors pkg/utils/response.Response on the wire.
type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data,omitempty"`
	TraceID string              `json:"trace_id,omitempty"`
}

// Me is the caller's identity.
type Me struct {
	ParticipantID string `json:"participant_id"`
	TeamID        string `json:"team_id"`
	Role          string `json:"role"`
}

// QuestionSummary is one entry of the published question list.
type QuestionSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// Question is one published question with its reference solution.
type Question struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Body              string `json:"body"`
	ReferenceSolution string `json:"reference_solution"`
	UpdatedAt         string `json:"updated_at"`
}

// Leaderboard is a ranked round.
type Leaderboard struct {
	Round       string           `json:"round"`
	Standings   []model.Standing `json:"standings"`
	GeneratedAt string           `json:"generated_at"`
}

type recordRequest struct {
	QuestionID string `json:"question_id"`
	SourceCode string `json:"source_code"`
}

type recordResponse struct {
	Kind    string              `json:"kind"`
	Applied int                 `json:"applied"`
	Verdict string              `json:"verdict"`
	Team    model.TeamAggregate `json:"team"`
}

type signalFrame struct {
	Current string `json:"current"`
}

// Client is a typed wrapper over the service's HTTP API.
type Client struct {
	http *httpclient.Client
}

// New creates a Client over an authenticated HTTP client.
func New(hc *httpclient.Client) *Client {
	return &Client{http: hc}
}

// Me returns the identity behind the current token.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var out Me
	err := c.call(ctx, http.MethodGet, "/api/v1/auth/me", nil, nil, &out)
	return out, err
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil, nil)
}

// Questions lists published questions.
func (c *Client) Questions(ctx context.Context) ([]QuestionSummary, error) {
	var out []QuestionSummary
	err := c.call(ctx, http.MethodGet, "/api/v1/questions", nil, nil, &out)
	return out, err
}

// Question fetches one published question.
func (c *Client) Question(ctx context.Context, id string) (Question, error) {
	var out Question
	err := c.call(ctx, http.MethodGet, "/api/v1/questions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Team reads a team aggregate.
func (c *Client) Team(ctx context.Context, teamID string) (model.TeamAggregate, error) {
	var out model.TeamAggregate
	err := c.call(ctx, http.MethodGet, "/api/v1/teams/"+url.PathEscape(teamID), nil, nil, &out)
	return out, err
}

// Leaderboard reads the top teams of round; an empty round means the service default.
func (c *Client) Leaderboard(ctx context.Context, round string, limit int) (Leaderboard, error) {
	query := url.Values{}
	if round != "" {
		query.Set("round", round)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/leaderboard"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out Leaderboard
	err := c.call(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

// Signal reads the current signal value.
func (c *Client) Signal(ctx context.Context) (string, error) {
	var out signalFrame
	err := c.call(ctx, http.MethodGet, "/api/v1/signal", nil, nil, &out)
	return out.Current, err
}

// SetSignal sets the signal. Requires an admin token.
func (c *Client) SetSignal(ctx context.Context, value string) (string, error) {
	body, err := json.Marshal(signalFrame{Current: value})
	if err != nil {
		return "", fmt.Errorf("marshal request body failed: %w", err)
	}
	var out signalFrame
	err = c.call(ctx, http.MethodPut, "/api/v1/signal", nil, body, &out)
	return out.Current, err
}

// Record posts the submitted source. The service grades it again and records
// its own score, so in.Score and in.Verdict are never sent. Participant and
// team come from the token.
func (c *Client) Record(ctx context.Context, in service.RecordInput) service.RecordOutcome {
	body, err := json.Marshal(recordRequest{
		QuestionID: in.QuestionID,
		SourceCode: in.SourceCode,
	})
	if err != nil {
		return recordFailure(outcome.Failed, pkgerrors.Wrap(err, pkgerrors.InternalServerError))
	}

	resp, err := c.http.Do(ctx, http.MethodPost, "/api/v1/scores", map[string]string{"Idempotency-Key": in.IdempotencyKey}, body)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return recordFailure(outcome.Timeout, pkgerrors.Wrap(err, pkgerrors.Timeout))
		}
		return recordFailure(outcome.TransportFailure, pkgerrors.Wrapf(err, pkgerrors.ServiceUnavailable, "Error: %s", err.Error()))
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return recordFailure(outcome.TransportFailure,
			pkgerrors.Newf(pkgerrors.ServiceUnavailable, "HTTP error! Status: %d", resp.StatusCode))
	}
	if env.Code != pkgerrors.Success {
		return classifyRecordError(env, resp.StatusCode)
	}

	var data recordResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return recordFailure(outcome.Failed, pkgerrors.Wrap(err, pkgerrors.InvalidFormat))
	}
	res := service.RecordOutcome{
		Kind:      outcome.Kind(data.Kind),
		Applied:   data.Applied,
		Verdict:   data.Verdict,
		Aggregate: data.Team,
	}
	if res.Kind == outcome.Duplicate {
		res.Message = env.Message
	}
	if res.Kind != outcome.OK && res.Kind != outcome.Duplicate {
		logger.Warn(ctx, "unexpected record kind", zap.String("kind", data.Kind))
		res.Kind = outcome.Failed
	}
	return res
}

func classifyRecordError(env envelope, status int) service.RecordOutcome {
	err := pkgerrors.New(env.Code)
	if env.Message != "" {
		err = err.WithMessage(env.Message)
	}
	switch {
	case env.Code == pkgerrors.TeamNotFound:
		return recordFailure(outcome.TeamNotFound, err)
	case env.Code == pkgerrors.SessionFrozen:
		return recordFailure(outcome.Frozen, err)
	case env.Code == pkgerrors.Timeout || env.Code == pkgerrors.GraderTimeout || status == http.StatusGatewayTimeout:
		return recordFailure(outcome.Timeout, err)
	case env.Code == pkgerrors.GraderUnavailable:
		return recordFailure(outcome.TransportFailure, err)
	case status >= http.StatusInternalServerError && env.Code == pkgerrors.ServiceUnavailable:
		return recordFailure(outcome.TransportFailure, err)
	default:
		return recordFailure(outcome.Failed, err)
	}
}

func recordFailure(kind outcome.Kind, err *pkgerrors.Error) service.RecordOutcome {
	return service.RecordOutcome{Kind: kind, Message: err.Error(), Err: err}
}

// call performs a request and decodes the envelope's data into out when non-nil.
func (c *Client) call(ctx context.Context, method, path string, headers map[string]string, body []byte, out interface{}) error {
	resp, err := c.http.Do(ctx, method, path, headers, body)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return pkgerrors.Wrap(err, pkgerrors.Timeout)
		}
		return pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return pkgerrors.Newf(pkgerrors.ServiceUnavailable, "HTTP error! Status: %d", resp.StatusCode)
	}
	if env.Code != pkgerrors.Success {
		apiErr := pkgerrors.New(env.Code)
		if env.Message != "" {
			apiErr = apiErr.WithMessage(env.Message)
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.InvalidFormat)
	}
	return nil
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if len(body) == 0 {
		return env, fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, err
	}
	if env.Code == 0 {
		return env, fmt.Errorf("response is not an api envelope")
	}
	return env, nil
}
