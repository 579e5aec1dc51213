// Package pipeline sequences signature verification, payload validation and
// idempotent persistence for a single webhook delivery.
//
// Every delivery moves through Received → SignatureChecked → Validated →
// Persisted → Finalized. Signature and validation failures jump straight to
// an outcome; the caller finalizes the trace on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"msgbox/internal/message"
	"msgbox/internal/security"
)

// MessageStore is the persistence step of the pipeline
type MessageStore interface {
	PutIfAbsent(ctx context.Context, msg *message.Message) (bool, error)
}

// Result is what the HTTP layer needs to build a response
type Result struct {
	Outcome    Outcome
	Violations []message.Violation
}

// Pipeline processes webhook deliveries
type Pipeline struct {
	secret string
	store  MessageStore
	now    func() time.Time
}

// New creates a pipeline verifying against secret and persisting into store
func New(secret string, store MessageStore) *Pipeline {
	return &Pipeline{
		secret: secret,
		store:  store,
		now:    time.Now,
	}
}

// Process runs one delivery through the pipeline, recording progress on t.
//
// Authentication and validation failures are outcomes, not errors. A non-nil
// error means the store failed and no outcome was reached.
func (p *Pipeline) Process(ctx context.Context, t *Trace, raw []byte, signature string) (Result, error) {
	if t == nil {
		t = NewTrace("", p.now())
	}

	// An unset secret must never authenticate anything
	valid := p.secret != "" && security.VerifySignature(raw, signature, p.secret)
	t.State = StateSignatureChecked
	if !valid {
		t.MessageID = message.ExtractID(raw)
		return conclude(t, OutcomeInvalidSignature, nil), nil
	}

	msg, err := message.Parse(raw)
	t.State = StateValidated
	if err != nil {
		t.MessageID = message.ExtractID(raw)

		var verr *message.ValidationError
		if !errors.As(err, &verr) {
			return Result{}, fmt.Errorf("failed to parse payload: %w", err)
		}
		return conclude(t, OutcomeValidationError, verr.Violations), nil
	}

	t.MessageID = &msg.ID
	msg.CreatedAt = message.FormatTimestamp(p.now())

	created, err := p.store.PutIfAbsent(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to persist message %q: %w", msg.ID, err)
	}
	t.State = StatePersisted

	duplicate := !created
	t.Duplicate = &duplicate

	if duplicate {
		return conclude(t, OutcomeDuplicate, nil), nil
	}
	return conclude(t, OutcomeCreated, nil), nil
}

func conclude(t *Trace, outcome Outcome, violations []message.Violation) Result {
	t.Outcome = outcome
	return Result{Outcome: outcome, Violations: violations}
}
