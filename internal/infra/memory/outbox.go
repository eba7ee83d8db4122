package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// Outbox returns the outbox store sharing the store's units of work.
func (s *Store) Outbox() outbox.Store { return outboxRepo{s} }

type outboxRepo struct{ s *Store }

func (r outboxRepo) Record(ctx context.Context, e *outbox.Event) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&e.ID)
		r.s.stamp(&e.CreatedAt)
		st.Outbox[e.ID] = *e
		return nil
	})
}

func (r outboxRepo) ClaimPending(ctx context.Context, limit, maxAttempts int) (items []*outbox.Event, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Outbox, func(e *outbox.Event) bool {
			return e.PublishedAt == nil && e.Attempts < maxAttempts
		})
		sortBy(all, func(a, b *outbox.Event) bool { return a.CreatedAt.Before(b.CreatedAt) })
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		items = all
		return nil
	})
	return items, err
}

func (r outboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		e, ok := st.Outbox[id]
		if !ok {
			return db.ErrNotFound
		}
		e.PublishedAt = &at
		e.LastError = nil
		st.Outbox[id] = e
		return nil
	})
}

func (r outboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		e, ok := st.Outbox[id]
		if !ok {
			return db.ErrNotFound
		}
		e.Attempts++
		e.LastError = &reason
		st.Outbox[id] = e
		return nil
	})
}

func (r outboxRepo) PendingCount(ctx context.Context) (n int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, e := range st.Outbox {
			if e.PublishedAt == nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

// Events returns every recorded event, oldest first.
func (s *Store) Events() []*outbox.Event {
	st := s.Export()
	all := filter(st.Outbox, func(*outbox.Event) bool { return true })
	sortBy(all, func(a, b *outbox.Event) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return all
}
