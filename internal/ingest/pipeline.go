// Package ingest turns subscription messages and direct requests into
// canonical events and persists each distinct event exactly once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// ErrPersistence wraps any storage failure, including a reference to an
// account that does not exist.
var ErrPersistence = errors.New("persistence failure")

// sideEffectTimeout bounds the analytics increment and fan-out that follow
// a stored event. They run detached from the caller's cancellation.
const sideEffectTimeout = 5 * time.Second

// EventStore persists events with insert-if-absent semantics.
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.Event) (inserted bool, err error)
}

// Counter receives one increment per newly stored event.
type Counter interface {
	Increment(ctx context.Context, account, eventType string, occurredAt time.Time)
}

// Publisher forwards newly stored events downstream.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Result describes the outcome of one Ingest call.
type Result struct {
	EventID   string
	Duplicate bool
}

// Pipeline validates, deduplicates and stores events. It is shared by the
// HTTP handler and the subscription manager and is safe for concurrent use.
type Pipeline struct {
	store     EventStore
	counter   Counter
	publisher Publisher
	now       func() time.Time
}

// NewPipeline creates a Pipeline. publisher may be nil.
func NewPipeline(s EventStore, counter Counter, publisher Publisher) *Pipeline {
	return &Pipeline{
		store:     s,
		counter:   counter,
		publisher: publisher,
		now:       time.Now,
	}
}

// Ingest stores the event unless its EventID was already stored. Missing
// EventID, Origin, OccurredAt and Payload are filled in on the given event.
// A repeated id is a success with Duplicate set; side effects only follow
// the first insert.
func (p *Pipeline) Ingest(ctx context.Context, event *models.Event) (Result, error) {
	if strings.TrimSpace(event.Account) == "" || strings.TrimSpace(event.Type) == "" {
		metrics.EventsIngested.WithLabelValues(event.Origin, metrics.ResultInvalid).Inc()
		return Result{}, fmt.Errorf("%w: tipo y cuenta_codigo son obligatorios", ErrMalformedInput)
	}

	now := p.now()
	if event.EventID == "" {
		event.EventID = NewEventID(now)
	}
	if event.Origin == "" {
		event.Origin = models.OriginHTTP
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now.UTC()
	}
	event.Payload = objectOrEmpty(event.Payload)

	inserted, err := p.store.InsertEvent(ctx, event)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(event.Origin, metrics.ResultFailed).Inc()
		return Result{EventID: event.EventID}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if !inserted {
		metrics.EventsIngested.WithLabelValues(event.Origin, metrics.ResultDuplicate).Inc()
		slog.Debug("duplicate event ignored", "event_id", event.EventID, "account", event.Account)
		return Result{EventID: event.EventID, Duplicate: true}, nil
	}

	metrics.EventsIngested.WithLabelValues(event.Origin, metrics.ResultStored).Inc()

	// The event is stored; a retry would be a duplicate, so its count and
	// fan-out must not be lost to a client that went away.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if p.counter != nil {
		p.counter.Increment(sideCtx, event.Account, event.Type, event.OccurredAt)
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(sideCtx, event); err != nil {
			metrics.FanoutFailures.Inc()
			slog.Warn("event fan-out failed", "event_id", event.EventID, "error", err)
		}
	}

	return Result{EventID: event.EventID}, nil
}
