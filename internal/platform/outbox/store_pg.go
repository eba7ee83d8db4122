package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/careflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *storePG) Record(ctx context.Context, e *Event) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_event (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, []byte(e.Payload), e.CreatedAt)
	return err
}

func (s *storePG) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*Event, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at,
			published_at, attempts, last_error
		FROM outbox_event
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload,
			&e.CreatedAt, &e.PublishedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *storePG) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE outbox_event SET published_at = $2, last_error = NULL WHERE id = $1`, id, at)
	return err
}

func (s *storePG) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE outbox_event SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
	return err
}

func (s *storePG) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM outbox_event WHERE published_at IS NULL`).Scan(&n)
	return n, err
}
