// Package domain defines the activity view model and the optimistic write
// path used by the interactive API.
package domain

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dblock/sparta-social/internal/lexicon"
	"github.com/dblock/sparta-social/internal/observability"
)

// RecordPutter writes a record into the caller's remote repository and
// returns the assigned canonical uri. The remote repository is the system of
// record; implementations live at the network boundary.
type RecordPutter interface {
	PutRecord(ctx context.Context, repoDID, collection, rkey string, record map[string]any) (string, error)
}

// Service implements the optimistic write path: validate, write to the
// remote repository, then update the local view so reads immediately after
// the request observe the new record.
type Service struct {
	store  ActivityStore
	putter RecordPutter
	logger *log.Logger
	now    func() time.Time
	newKey func() string
}

// ServiceOption configures optional behaviour for the Service.
type ServiceOption func(*Service)

// WithLogger overrides the logger used for swallowed local-store failures.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the clock used to stamp indexedAt.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService constructs a Service.
func NewService(store ActivityStore, putter RecordPutter, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		putter: putter,
		logger: log.New(log.Writer(), "[optimistic] ", log.LstdFlags),
		now:    time.Now,
		newKey: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateActivityInput captures the payload from the API layer. Record must
// carry the $type discriminant of the target collection.
type CreateActivityInput struct {
	AuthorDID  string
	Collection string
	Record     map[string]any
}

// CreateActivity validates the record, writes it to the author's repository,
// and optimistically upserts the local view under the assigned uri.
//
// A local upsert failure after a successful remote write is logged and
// swallowed: the remote repository already holds the record and the stream
// will redeliver it, so the optimistic update is a latency optimization, not
// the system of record for its own result.
func (s *Service) CreateActivity(ctx context.Context, input CreateActivityInput) (*ActivityRecord, error) {
	collection := input.Collection
	if collection == "" {
		collection = lexicon.CollectionActivity
	}

	validated, err := lexicon.ValidateRecord(collection, input.Record)
	if err != nil {
		return nil, err
	}

	rkey := s.newKey()
	uri, err := s.putter.PutRecord(ctx, input.AuthorDID, collection, rkey, input.Record)
	if err != nil {
		return nil, fmt.Errorf("write record to repository: %w", err)
	}

	rec := RecordFromValidated(uri, input.AuthorDID, *validated, s.now().UTC())
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.logger.Printf("optimistic upsert failed (uri=%s), deferring to stream: %v", uri, err)
	} else {
		observability.RecordOptimisticWrite(rec.IndexedAt)
	}
	return &rec, nil
}

// GetActivity fetches one materialized row by uri. A nil result means no row
// is currently materialized.
func (s *Service) GetActivity(ctx context.Context, uri string) (*ActivityRecord, error) {
	return s.store.Get(ctx, uri)
}

// ListRecentActivities returns materialized rows ordered by indexedAt
// descending, with keyset pagination.
func (s *Service) ListRecentActivities(ctx context.Context, cursor *Cursor, limit int) ([]ActivityRecord, *Cursor, error) {
	return s.store.ListRecent(ctx, cursor, limit)
}
