package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"redlight/internal/common/mq"
	"redlight/internal/score/model"
	"redlight/pkg/utils/contextkey"
)

// ScoreEventPublisher publishes ScoreRecordedEvents, keyed by team so a
// team's events stay ordered.
type ScoreEventPublisher struct {
	queue mq.Producer
	topic string
}

// NewScoreEventPublisher creates a new score event publisher.
func NewScoreEventPublisher(queue mq.Producer, topic string) *ScoreEventPublisher {
	return &ScoreEventPublisher{queue: queue, topic: topic}
}

// PublishScoreRecorded publishes event to the configured topic.
func (p *ScoreEventPublisher) PublishScoreRecorded(ctx context.Context, event model.ScoreRecordedEvent) error {
	if p == nil || p.queue == nil {
		return errors.New("score event publisher is nil")
	}
	if p.topic == "" {
		return errors.New("score event topic is empty")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal score event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.EventID
	message.Key = event.TeamID
	message.SetHeader("event_type", event.EventType)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		message.SetHeader("trace_id", traceID)
	}
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return fmt.Errorf("publish score event failed: %w", err)
	}
	return nil
}
