package contextkey

// Key namespaces request-scoped values so they cannot collide with other
// packages' context keys.
type Key string

const (
	TraceID       Key = "trace_id"
	RequestID     Key = "request_id"
	ParticipantID Key = "participant_id"
	TeamID        Key = "team_id"
)
