package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactor runs fn as one atomic unit of work. A call made while a unit is
// already open on ctx joins it instead of starting a new one; only the
// outermost call commits or rolls back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the hospital connection carried by ctx and
// returns a context carrying it.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TxManager is the Postgres Transactor. It begins on the hospital connection
// when the request carries one, otherwise on the pool.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var tx pgx.Tx
	if conn := ConnFromContext(ctx); conn != nil {
		ctx, tx, err = WithTx(ctx)
		if err != nil {
			return err
		}
	} else {
		tx, err = m.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		ctx = context.WithValue(ctx, DBTxKey, tx)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
