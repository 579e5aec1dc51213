package pipeline

import (
	"context"
	"time"
)

// Outcome is the terminal classification of a webhook request
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeValidationError  Outcome = "validation_error"
)

// State is a step of the per-request state machine
type State int

const (
	StateReceived State = iota
	StateSignatureChecked
	StateValidated
	StatePersisted
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateSignatureChecked:
		return "signature_checked"
	case StateValidated:
		return "validated"
	case StatePersisted:
		return "persisted"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Trace is the per-request context shared between the pipeline and the
// request emitter. It is owned by a single request and never shared.
type Trace struct {
	RequestID string
	StartTime time.Time
	State     State
	Outcome   Outcome // empty until the pipeline reaches an outcome
	MessageID *string // best-effort, nil when unknown
	Duplicate *bool   // nil until persistence has run
	Fault     error   // set by the HTTP layer when a request fails internally
	Stack     string  // goroutine stack of a recovered panic
}

// NewTrace starts a trace in the Received state
func NewTrace(requestID string, start time.Time) *Trace {
	return &Trace{
		RequestID: requestID,
		StartTime: start,
		State:     StateReceived,
	}
}

// Finalize moves the trace to its terminal state.
// It returns false if the trace was already finalized.
func (t *Trace) Finalize() bool {
	if t.State == StateFinalized {
		return false
	}
	t.State = StateFinalized
	return true
}

type traceKey struct{}

// WithTrace attaches t to ctx
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the trace attached to ctx, or nil
func TraceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}
