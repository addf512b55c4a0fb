package model

import "time"

const (
	// OverallField is the aggregate field holding the sum of every round.
	OverallField = "overall"

	ScoreRecordedEventType = "score.recorded"
)

// ScoreRecord is the latest evaluated score of one participant.
type ScoreRecord struct {
	ParticipantID string    `json:"participant_id"`
	TeamID        string    `json:"team_id"`
	QuestionID    string    `json:"question_id,omitempty"`
	Score         int       `json:"score"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// TeamAggregate holds the running totals of one team.
type TeamAggregate struct {
	TeamID  string           `json:"team_id"`
	Rounds  map[string]int64 `json:"rounds"`
	Overall int64            `json:"overall"`
}

// Round returns the total of the named round, 0 when absent.
func (a TeamAggregate) Round(name string) int64 {
	return a.Rounds[name]
}

// ScoreRecordedEvent is published after a score has been folded into a team aggregate.
type ScoreRecordedEvent struct {
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	TeamID         string    `json:"team_id"`
	ParticipantID  string    `json:"participant_id"`
	QuestionID     string    `json:"question_id,omitempty"`
	Round          string    `json:"round"`
	Score          int       `json:"score"`
	RoundTotal     int64     `json:"round_total"`
	OverallTotal   int64     `json:"overall_total"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// ArchivedSubmission is the object written to storage for every accepted submission.
type ArchivedSubmission struct {
	ParticipantID string    `json:"participant_id"`
	TeamID        string    `json:"team_id"`
	QuestionID    string    `json:"question_id,omitempty"`
	Round         string    `json:"round"`
	Score         int       `json:"score"`
	Verdict       string    `json:"verdict"`
	SourceCode    string    `json:"source_code"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank   int    `json:"rank"`
	TeamID string `json:"team_id"`
	Score  int64  `json:"score"`
}
