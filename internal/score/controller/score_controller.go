package controller

import (
	"strconv"
	"time"

	"redlight/internal/assessment/outcome"
	"redlight/internal/auth"
	"redlight/internal/score/model"
	"redlight/internal/score/service"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ScoreController handles submissions and aggregate reads.
type ScoreController struct {
	submissions *service.SubmissionService
	recorder    *service.Recorder
	leaderboard *service.LeaderboardService
}

// NewScoreController creates a new ScoreController.
func NewScoreController(submissions *service.SubmissionService, recorder *service.Recorder, leaderboard *service.LeaderboardService) *ScoreController {
	return &ScoreController{submissions: submissions, recorder: recorder, leaderboard: leaderboard}
}

// Record grades the submitted source and folds the grader's score into the
// caller's team.
func (h *ScoreController) Record(c *gin.Context) {
	p, ok := auth.ParticipantFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	res := h.submissions.Submit(c.Request.Context(), service.SubmitInput{
		ParticipantID:  p.ID,
		TeamID:         p.TeamID,
		QuestionID:     req.QuestionID,
		SourceCode:     req.SourceCode,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	switch res.Kind {
	case outcome.OK:
		response.Success(c, newRecordResponse(res))
	case outcome.Duplicate:
		response.SuccessWithMessage(c, res.Message, newRecordResponse(res))
	default:
		response.Error(c, res.Err)
	}
}

// GetTeam returns one team's aggregate.
func (h *ScoreController) GetTeam(c *gin.Context) {
	teamID := c.Param("id")
	if teamID == "" {
		response.BadRequest(c, "Invalid team id")
		return
	}
	agg, err := h.recorder.GetTeam(c.Request.Context(), teamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newTeamResponse(agg))
}

// Leaderboard returns the leading teams of a round.
func (h *ScoreController) Leaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = parsed
	}
	round := c.Query("round")
	standings, err := h.leaderboard.Top(c.Request.Context(), round, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if round == "" {
		round = h.recorder.Round()
	}
	c.Header("Cache-Control", "no-store")
	response.Success(c, LeaderboardResponse{Round: round, Standings: standings, GeneratedAt: time.Now().UTC().Format(time.RFC3339)})
}

// RecordRequest defines the submission payload. Participant and team come
// from the access token, the idempotency key from the Idempotency-Key header.
// The score is always computed by the service.
type RecordRequest struct {
	QuestionID string `json:"question_id"`
	SourceCode string `json:"source_code"`
}

// RecordResponse defines the score recording response payload.
type RecordResponse struct {
	Kind    string       `json:"kind"`
	Applied int          `json:"applied"`
	Verdict string       `json:"verdict,omitempty"`
	Team    TeamResponse `json:"team"`
}

// TeamResponse defines a team aggregate payload.
type TeamResponse struct {
	TeamID  string           `json:"team_id"`
	Rounds  map[string]int64 `json:"rounds"`
	Overall int64            `json:"overall"`
}

// LeaderboardResponse defines the leaderboard payload.
type LeaderboardResponse struct {
	Round       string           `json:"round"`
	Standings   []model.Standing `json:"standings"`
	GeneratedAt string           `json:"generated_at"`
}

func newRecordResponse(res service.RecordOutcome) RecordResponse {
	return RecordResponse{Kind: string(res.Kind), Applied: res.Applied, Verdict: res.Verdict, Team: newTeamResponse(res.Aggregate)}
}

func newTeamResponse(agg model.TeamAggregate) TeamResponse {
	rounds := agg.Rounds
	if rounds == nil {
		rounds = map[string]int64{}
	}
	return TeamResponse{TeamID: agg.TeamID, Rounds: rounds, Overall: agg.Overall}
}
