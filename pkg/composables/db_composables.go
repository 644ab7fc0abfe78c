package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ctxKey int

const (
	txKey ctxKey = iota
	poolKey
	loggerKey
	requestIDKey
)

var (
	ErrNoTx   = errors.New("no transaction found in context")
	ErrNoPool = errors.New("no database pool found in context")
)

// WithTx attaches an open transaction. Stores that find one nest their work
// inside it as a savepoint instead of opening a new transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

func UseTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok && tx != nil
}

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, poolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, ok := ctx.Value(poolKey).(*pgxpool.Pool)
	if !ok || pool == nil {
		return nil, ErrNoPool
	}
	return pool, nil
}

// BeginTx opens a savepoint on the context transaction when there is one,
// otherwise a fresh transaction on pool.
func BeginTx(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, error) {
	if tx, ok := UseTx(ctx); ok {
		return tx.Begin(ctx)
	}
	if pool == nil {
		p, err := UsePool(ctx)
		if err != nil {
			return nil, err
		}
		pool = p
	}
	return pool.Begin(ctx)
}
