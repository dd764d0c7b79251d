package load

import "time"

// Status is the terminal classification of a WorkItem.
type Status uint8

const (
	// StatusConfirmed means the SUT accepted the item and drove its entity to a terminal state.
	StatusConfirmed Status = iota + 1
	// StatusFailed means the SUT returned a domain error or the worker recovered an internal error.
	StatusFailed
	// StatusTimedOut means the item was abandoned during shutdown or ran past its deadline.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorKind is the histogram key of a failed outcome.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindIllegalTransition ErrorKind = "illegal_transition"
	ErrorKindInvalidPayload    ErrorKind = "invalid_payload"
	ErrorKindNonceCollision    ErrorKind = "nonce_collision"
	ErrorKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrorKindChainNotConnected ErrorKind = "chain_not_connected"
	ErrorKindReplayDetected    ErrorKind = "replay_detected"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindNonceTooLow       ErrorKind = "nonce_too_low"
	ErrorKindGasPriceTooLow    ErrorKind = "gas_price_too_low"
	ErrorKindExecutionReverted ErrorKind = "execution_reverted"
	ErrorKindInvalidRecipient  ErrorKind = "invalid_recipient"
	ErrorKindNodeUnavailable   ErrorKind = "node_unavailable"
	ErrorKindCircuitOpen       ErrorKind = "circuit_open"
	ErrorKindAbandoned         ErrorKind = "abandoned"
	ErrorKindInternal          ErrorKind = "internal"
)

// Outcome is the single terminal record a worker produces for a WorkItem.
type Outcome struct {
	ItemID      string
	Kind        Kind
	EntityID    string
	Status      Status
	ErrorKind   ErrorKind
	Error       string
	SubmittedAt time.Time
	CompletedAt time.Time
}

// Latency is the time between generation and completion of the item.
func (o Outcome) Latency() time.Duration {
	return o.CompletedAt.Sub(o.SubmittedAt)
}

// NewOutcome builds the outcome of item completed at the given time.
func NewOutcome(item *WorkItem, status Status, kind ErrorKind, err error, completedAt time.Time) Outcome {
	o := Outcome{
		ItemID:      item.ID,
		Kind:        item.Kind,
		Status:      status,
		ErrorKind:   kind,
		SubmittedAt: item.SubmittedAt,
		CompletedAt: completedAt,
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
