// Package outbox relays events written in registration transactions to the
// message broker.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"int20h/internal/registration/metrics"
	"int20h/internal/registration/models"
)

var tracer = otel.Tracer("int20h.registration.outbox")

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Store reads and acknowledges outbox rows. FetchUnpublished may lock the
// rows it returns until the surrounding transaction ends.
type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// TxRunner wraps fetch, publish and acknowledge in one transaction.
type TxRunner interface {
	RunOutboxTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher delivers a batch in order. A nil error means every entry was
// acknowledged by the broker.
type Publisher interface {
	Publish(ctx context.Context, entries []models.OutboxEntry) error
}

type Relay struct {
	store     Store
	tx        TxRunner
	publisher Publisher
	interval  time.Duration
	batchSize int
	breaker   *CircuitBreaker
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(r *Relay) { r.breaker = cb }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(store Store, tx TxRunner, publisher Publisher, opts ...Option) (*Relay, error) {
	if store == nil || tx == nil || publisher == nil {
		return nil, errors.New("outbox relay requires store, tx runner and publisher")
	}
	r := &Relay{
		store:     store,
		tx:        tx,
		publisher: publisher,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		breaker:   NewCircuitBreaker(5, 30*time.Second),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until ctx is cancelled. Publish failures are logged and retried
// on later ticks; they never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "outbox relay started",
		"interval", r.interval.String(),
		"batch_size", r.batchSize,
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if !r.breaker.Allow() {
				continue
			}
			// drain while full batches keep coming
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
					}
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and returns how many entries were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "outbox.Flush")
	defer span.End()

	var delivered int
	err := r.tx.RunOutboxTx(ctx, func(ctx context.Context) error {
		entries, err := r.store.FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetching outbox entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := r.publisher.Publish(ctx, entries); err != nil {
			r.breaker.RecordFailure()
			r.metrics.IncrementOutboxFailure()
			return fmt.Errorf("publishing %d outbox entries: %w", len(entries), err)
		}
		r.breaker.RecordSuccess()

		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := r.store.MarkPublished(ctx, ids, time.Now()); err != nil {
			return fmt.Errorf("marking outbox entries published: %w", err)
		}
		delivered = len(entries)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int("delivered", delivered))
	if delivered > 0 {
		r.metrics.AddOutboxPublished(delivered)
		r.logger.DebugContext(ctx, "outbox entries published", "count", delivered)
	}
	return delivered, nil
}
