package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors
// 12000-12999: Question catalog errors
// 13000-13999: Session, run and evaluation errors
// 14000-14999: Scoring errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Dependency errors (10400-10499)
	StorageError      ErrorCode = 10400
	MessageQueueError ErrorCode = 10401

	// ========== Auth Errors (11000-11999) ==========

	TokenExpired      ErrorCode = 11000
	TokenInvalid      ErrorCode = 11001
	TokenMissing      ErrorCode = 11002
	ParticipantNoTeam ErrorCode = 11003

	// ========== Question Catalog Errors (12000-12999) ==========

	QuestionNotFound     ErrorCode = 12000
	QuestionNotPublished ErrorCode = 12001

	// ========== Session, Run & Evaluation Errors (13000-13999) ==========

	// Session (13000-13099)
	SessionFrozen       ErrorCode = 13000
	SlotStoreError      ErrorCode = 13001
	SignalInvalid       ErrorCode = 13002
	SignalBroadcastFail ErrorCode = 13003

	// Remote runner and grader (13100-13199)
	RunnerUnavailable ErrorCode = 13100
	RunnerTimeout     ErrorCode = 13101
	GraderUnavailable ErrorCode = 13102
	GraderTimeout     ErrorCode = 13103

	// ========== Scoring Errors (14000-14999) ==========

	TeamNotFound        ErrorCode = 14000
	DuplicateSubmission ErrorCode = 14001
	ScoreRecordFailed   ErrorCode = 14002
	InvalidScore        ErrorCode = 14003
	LeaderboardNotReady ErrorCode = 14004
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Dependencies
	StorageError:      "Object storage operation failed",
	MessageQueueError: "Message queue operation failed",

	// Auth
	TokenExpired:      "Token has expired",
	TokenInvalid:      "Invalid token",
	TokenMissing:      "Missing bearer token",
	ParticipantNoTeam: "Participant is not assigned to a team",

	// Catalog
	QuestionNotFound:     "Question not found",
	QuestionNotPublished: "Question is not published yet",

	// Session
	SessionFrozen:       "Editing is frozen during red light",
	SlotStoreError:      "Local work store failed",
	SignalInvalid:       "Invalid signal value",
	SignalBroadcastFail: "Failed to broadcast signal",

	// Runner & grader
	RunnerUnavailable: "Code runner is unavailable",
	RunnerTimeout:     "Code runner timed out",
	GraderUnavailable: "Grading service is unavailable",
	GraderTimeout:     "Grading service timed out",

	// Scoring
	TeamNotFound:        "Team data not found",
	DuplicateSubmission: "Submission already recorded",
	ScoreRecordFailed:   "Failed to record score",
	InvalidScore:        "Score must be a non-negative integer",
	LeaderboardNotReady: "Leaderboard is not available",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid, c == TokenMissing:
		return 401
	case c == Forbidden, c == ParticipantNoTeam:
		return 403
	case c == NotFound, c == QuestionNotFound, c == QuestionNotPublished, c == TeamNotFound:
		return 404
	case c == DuplicateSubmission, c == RecordAlreadyExists:
		return 409
	case c == SessionFrozen:
		return 423
	case c == TooManyRequests:
		return 429
	case c == RunnerUnavailable, c == GraderUnavailable:
		return 502
	case c == ServiceUnavailable:
		return 503
	case c == Timeout, c == RunnerTimeout, c == GraderTimeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == InvalidScore, c == SignalInvalid:
		return 400
	default:
		return 500
	}
}
