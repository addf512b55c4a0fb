package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"redlight/internal/common/mq"
	"redlight/internal/score/model"
	"redlight/internal/score/repository"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxLeaderboardLimit = 100

// LeaderboardProjector folds ScoreRecordedEvents into per-round sorted sets.
type LeaderboardProjector struct {
	mqClient mq.Consumer
	repo     *repository.LeaderboardRepository
}

// NewLeaderboardProjector creates a projector.
func NewLeaderboardProjector(mqClient mq.Consumer, repo *repository.LeaderboardRepository) *LeaderboardProjector {
	return &LeaderboardProjector{mqClient: mqClient, repo: repo}
}

// Subscribe registers the projection handler and starts consuming.
func (p *LeaderboardProjector) Subscribe(ctx context.Context, topic, consumerGroup string, opts *mq.SubscribeOptions) error {
	if p == nil || p.mqClient == nil {
		return errors.New("message queue is nil")
	}
	if topic == "" {
		return errors.New("score event topic is required")
	}
	options := opts
	if options == nil {
		options = &mq.SubscribeOptions{}
	}
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = consumerGroup
	}
	if err := p.mqClient.SubscribeWithOptions(ctx, topic, p.HandleMessage, options); err != nil {
		return err
	}
	return p.mqClient.Start()
}

// HandleMessage applies one score event. Malformed events are dropped.
func (p *LeaderboardProjector) HandleMessage(ctx context.Context, message *mq.Message) error {
	var event model.ScoreRecordedEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		logger.Warn(ctx, "parse score event failed", zap.Error(err))
		return nil
	}
	if event.EventType != model.ScoreRecordedEventType {
		return nil
	}
	if event.TeamID == "" || event.Round == "" {
		logger.Warn(ctx, "score event missing team or round", zap.String("event_id", event.EventID))
		return nil
	}
	eventID := event.EventID
	if eventID == "" {
		eventID = message.ID
	}

	applied, err := p.repo.Add(ctx, event.Round, event.TeamID, eventID, event.Score)
	if err != nil {
		return fmt.Errorf("update leaderboard failed: %w", err)
	}
	if !applied {
		logger.Debug(ctx, "score event already projected", zap.String("event_id", eventID))
	}
	return nil
}

// LeaderboardService reads standings.
type LeaderboardService struct {
	repo         *repository.LeaderboardRepository
	defaultRound string
}

// NewLeaderboardService creates a leaderboard reader defaulting to round.
func NewLeaderboardService(repo *repository.LeaderboardRepository, round string) *LeaderboardService {
	if round == "" {
		round = defaultRound
	}
	return &LeaderboardService{repo: repo, defaultRound: round}
}

// Top returns the leading teams of round, or of the current round when empty.
func (s *LeaderboardService) Top(ctx context.Context, round string, limit int) ([]model.Standing, error) {
	if round == "" {
		round = s.defaultRound
	}
	if err := repository.ValidateRound(round); err != nil {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("invalid round")
	}
	if limit <= 0 || limit > maxLeaderboardLimit {
		limit = 10
	}
	standings, err := s.repo.Top(ctx, round, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.LeaderboardNotReady)
	}
	return standings, nil
}
