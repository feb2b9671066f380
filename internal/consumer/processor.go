// Package consumer maintains the long-lived subscription to the stream of
// repository events and dispatches decoded events to the materializer.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/dblock/sparta-social/internal/domain"
	"github.com/dblock/sparta-social/internal/identity"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded events that survived the subscription filter.
type Handler interface {
	Handle(ctx context.Context, evt domain.Event) error
}

// SubscriptionOptions narrow which stream events reach the handler.
type SubscriptionOptions struct {
	// Collections filters write events to the listed collection NSIDs. An
	// empty list admits every collection.
	Collections []string
	// ExcludeIdentityEvents drops identity events before dispatch.
	ExcludeIdentityEvents bool
	// ExcludeAccountEvents drops account events before dispatch.
	ExcludeAccountEvents bool
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithResolver attaches an identity resolver whose handle cache is warmed
// for the author of each handled event.
func WithResolver(resolver identity.Resolver) Option {
	return func(p *Processor) {
		p.resolver = resolver
	}
}

// Processor pulls messages from the stream transport, decodes the event
// envelope, applies the subscription filter, and dispatches to a Handler. A
// malformed or undeliverable event never terminates the subscription.
type Processor struct {
	reader      Reader
	handler     Handler
	opts        SubscriptionOptions
	collections map[string]struct{}
	resolver    identity.Resolver
	logger      *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts SubscriptionOptions, options ...Option) *Processor {
	p := &Processor{
		reader:      reader,
		handler:     handler,
		opts:        opts,
		collections: make(map[string]struct{}, len(opts.Collections)),
		logger:      log.New(log.Writer(), "[ingester] ", log.LstdFlags|log.Lshortfile),
	}
	for _, collection := range opts.Collections {
		p.collections[collection] = struct{}{}
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes stream events until the context
// is cancelled. In-flight applies finish before the loop returns.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		evt, decodeErr := decodeEvent(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if p.filtered(evt) {
			recordFiltered(msg.Topic, evt.Kind)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after filter: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, evt); handleErr != nil {
			p.logger.Printf("handler error (kind=%s, uri=%s): %v", evt.Kind, evt.URI, handleErr)
			recordHandlerError(msg.Topic, evt.Kind)
			continue
		}

		p.warmResolver(ctx, evt)

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(msg, evt)
		}
	}
}

// filtered reports whether the event is dropped by the subscription options
// before reaching the handler.
func (p *Processor) filtered(evt domain.Event) bool {
	switch evt.Kind {
	case domain.EventKindIdentity:
		return p.opts.ExcludeIdentityEvents
	case domain.EventKindAccount:
		return p.opts.ExcludeAccountEvents
	}
	if len(p.collections) == 0 {
		return false
	}
	_, ok := p.collections[evt.Collection]
	return !ok
}

func (p *Processor) warmResolver(ctx context.Context, evt domain.Event) {
	if p.resolver == nil || evt.RepoID == "" {
		return
	}
	if _, err := p.resolver.ResolveDIDsToHandles(ctx, []string{evt.RepoID}); err != nil {
		p.logger.Printf("handle resolution failed (did=%s): %v", evt.RepoID, err)
	}
}

func decodeEvent(msg kafka.Message) (domain.Event, error) {
	var evt domain.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return domain.Event{}, fmt.Errorf("malformed event envelope: %w", err)
	}
	if evt.Kind == "" {
		return domain.Event{}, errors.New("missing event kind")
	}
	switch evt.Kind {
	case domain.EventKindCreate, domain.EventKindUpdate, domain.EventKindDelete:
		if evt.URI == "" {
			return domain.Event{}, errors.New("missing event uri")
		}
	}
	return evt, nil
}
