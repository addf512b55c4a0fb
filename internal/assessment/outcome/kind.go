// Package outcome defines the terminal result kinds shared by run, evaluate and record.
package outcome

// Kind classifies how an asynchronous action finished. Every action ends in
// exactly one Kind.
type Kind string

const (
	// OK means the action completed and its payload is valid.
	OK Kind = "ok"
	// Frozen means the action was rejected locally because the signal is red.
	Frozen Kind = "frozen"
	// TransportFailure covers network errors and non-2xx responses.
	TransportFailure Kind = "transport_failure"
	// Timeout means the remote call exceeded its deadline.
	Timeout Kind = "timeout"
	// TeamNotFound means the submitting participant's team record is missing.
	TeamNotFound Kind = "team_not_found"
	// Duplicate means an idempotency key was already applied.
	Duplicate Kind = "duplicate"
	// Failed covers any other error, such as a store outage.
	Failed Kind = "failed"
)

// Retryable reports whether resending the same request could succeed.
func (k Kind) Retryable() bool {
	switch k {
	case TransportFailure, Timeout, Failed:
		return true
	default:
		return false
	}
}
