// Package materializer applies decoded stream events to the local activity
// view with idempotent, convergent semantics.
package materializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dblock/sparta-social/internal/domain"
	"github.com/dblock/sparta-social/internal/lexicon"
	"github.com/dblock/sparta-social/internal/observability"
)

// Outcome reports what applying an event did to the store.
type Outcome int

const (
	// OutcomeIgnored means the event was outside the recognized collections
	// or kinds and caused no mutation.
	OutcomeIgnored Outcome = iota
	// OutcomeRejected means the payload failed schema validation and caused
	// no mutation.
	OutcomeRejected
	// OutcomeApplied means the store was mutated (upsert or delete).
	OutcomeApplied
)

// String names the outcome for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeRejected:
		return "rejected"
	default:
		return "ignored"
	}
}

// Materializer consumes one decoded event at a time and applies it to the
// store. Apply is idempotent: upserts replace the full row keyed by uri, and
// deleting an absent row is a no-op. Events are never reordered; an event
// delivered out of causal order overwrites whatever is present.
type Materializer struct {
	store  domain.ActivityStore
	logger *log.Logger
	now    func() time.Time
}

// Option configures optional behaviour for the Materializer.
type Option func(*Materializer)

// WithLogger overrides the logger used to report rejections.
func WithLogger(logger *log.Logger) Option {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// WithClock overrides the clock used to stamp indexedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) {
		m.now = now
	}
}

// New constructs a Materializer over the provided store.
func New(store domain.ActivityStore, opts ...Option) *Materializer {
	m := &Materializer{
		store:  store,
		logger: log.New(log.Writer(), "[materializer] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply runs the event through validation and mutates the store. The
// returned error is non-nil only for store failures; validation failures
// resolve to OutcomeRejected with a nil error so the caller can keep
// consuming.
func (m *Materializer) Apply(ctx context.Context, evt domain.Event) (Outcome, error) {
	switch evt.Kind {
	case domain.EventKindCreate, domain.EventKindUpdate:
		return m.applyWrite(ctx, evt)
	case domain.EventKindDelete:
		return m.applyDelete(ctx, evt)
	default:
		recordOutcome(evt, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
}

func (m *Materializer) applyWrite(ctx context.Context, evt domain.Event) (Outcome, error) {
	// The consumer filters collections before dispatch; this check is
	// defense in depth for callers that skip the consumer.
	if !lexicon.Recognized(evt.Collection) {
		recordOutcome(evt, OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	payload, err := decodePayload(evt.Record)
	if err != nil {
		m.logger.Printf("rejected %s (uri=%s): %v", evt.Kind, evt.URI, err)
		recordOutcome(evt, OutcomeRejected)
		return OutcomeRejected, nil
	}

	validated, err := lexicon.ValidateRecord(evt.Collection, payload)
	if err != nil {
		if errors.Is(err, lexicon.ErrRejected) {
			m.logger.Printf("rejected %s (uri=%s): %v", evt.Kind, evt.URI, err)
			recordOutcome(evt, OutcomeRejected)
			return OutcomeRejected, nil
		}
		return OutcomeIgnored, err
	}

	rec := domain.RecordFromValidated(evt.URI, evt.RepoID, *validated, m.now().UTC())
	if err := m.store.Upsert(ctx, rec); err != nil {
		return OutcomeIgnored, fmt.Errorf("upsert %s: %w", evt.URI, err)
	}

	recordOutcome(evt, OutcomeApplied)
	observability.RecordActivityMaterialized(rec.IndexedAt)
	return OutcomeApplied, nil
}

func (m *Materializer) applyDelete(ctx context.Context, evt domain.Event) (Outcome, error) {
	if !lexicon.Recognized(evt.Collection) {
		recordOutcome(evt, OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	// Deleting an absent row is a safe no-op.
	if err := m.store.DeleteByURI(ctx, evt.URI); err != nil {
		return OutcomeIgnored, fmt.Errorf("delete %s: %w", evt.URI, err)
	}

	recordOutcome(evt, OutcomeApplied)
	return OutcomeApplied, nil
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing record payload")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed record payload: %w", err)
	}
	return payload, nil
}
