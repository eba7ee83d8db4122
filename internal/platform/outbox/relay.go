package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
)

// Sink receives published events. A sink that is not interested in an event
// type returns nil without doing anything.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e *Event) error
}

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// SplitUnits claims a batch, publishes it outside any unit of work and
	// marks the results in a second unit. Stores whose units hold a global
	// write lock use it so slow sinks do not block the engine. It is only
	// safe with a single relay per store.
	SplitUnits bool
}

func (c *RelayConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Relay moves unpublished events from the outbox table to its sinks.
type Relay struct {
	store   Store
	tx      db.Transactor
	sinks   []Sink
	cfg     RelayConfig
	metrics *metrics.Registry
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRelay(store Store, tx db.Transactor, sinks []Sink, cfg RelayConfig, logger zerolog.Logger) *Relay {
	cfg.applyDefaults()
	return &Relay{
		store:   store,
		tx:      tx,
		sinks:   sinks,
		cfg:     cfg,
		metrics: metrics.Default(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Int("sinks", len(r.sinks)).
		Msg("outbox relay started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error().Err(err).Msg("outbox flush failed")
			}
		}
	}
}

// Flush relays one batch and reports how many events were published. By
// default the batch is claimed and marked in a single unit of work so
// concurrent relays never hand out the same event twice.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if r.cfg.SplitUnits {
		return r.flushSplit(ctx)
	}
	published := 0
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		events, err := r.store.ClaimPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
		if err != nil {
			return fmt.Errorf("claim pending events: %w", err)
		}
		for _, e := range events {
			ok, err := r.settle(ctx, e, r.deliver(ctx, e))
			if err != nil {
				return err
			}
			if ok {
				published++
			}
		}
		return nil
	})
	return published, err
}

func (r *Relay) flushSplit(ctx context.Context) (int, error) {
	var events []*Event
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		events, err = r.store.ClaimPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	results := make([]error, len(events))
	for i, e := range events {
		results[i] = r.deliver(ctx, e)
	}

	published := 0
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for i, e := range events {
			ok, err := r.settle(ctx, e, results[i])
			if err != nil {
				return err
			}
			if ok {
				published++
			}
		}
		return nil
	})
	return published, err
}

// settle records the delivery outcome of e and reports whether it was
// published.
func (r *Relay) settle(ctx context.Context, e *Event, deliverErr error) (bool, error) {
	if deliverErr != nil {
		r.metrics.Relayed(e.EventType, false)
		r.logger.Warn().Err(deliverErr).
			Str("event_id", e.ID.String()).
			Str("event_type", e.EventType).
			Int("attempts", e.Attempts+1).
			Msg("outbox delivery failed")
		if err := r.store.MarkFailed(ctx, e.ID, deliverErr.Error()); err != nil {
			return false, fmt.Errorf("mark event %s failed: %w", e.ID, err)
		}
		return false, nil
	}
	if err := r.store.MarkPublished(ctx, e.ID, r.now()); err != nil {
		return false, fmt.Errorf("mark event %s published: %w", e.ID, err)
	}
	r.metrics.Relayed(e.EventType, true)
	return true, nil
}

func (r *Relay) deliver(ctx context.Context, e *Event) error {
	for _, s := range r.sinks {
		if err := s.Publish(ctx, e); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return nil
}
