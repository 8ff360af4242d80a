package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Tx is the transaction handle repositories write through
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// transaction is a sqlx.Tx that only its opener may finish. A repository call made
// inside another's transaction joins it and its Commit and Rollback do nothing.
type transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	done   bool
	joined bool
}

// GetTx joins the open transaction carried by ctx or begins one and stores it on the
// returned context
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if outer, ok := ctx.Value(txKey{}).(*transaction); ok && !outer.done {
		return ctx, &transaction{Tx: outer.Tx, logger: logger, joined: true}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to begin transaction")
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}

	t := &transaction{Tx: tx, logger: logger}
	return context.WithValue(ctx, txKey{}, t), t, nil
}

func (t *transaction) finish(ctx context.Context, op string, fn func() error) error {
	if t.done || t.joined {
		return nil
	}
	t.done = true
	if err := fn(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s transaction", op)
		return fmt.Errorf("%s transaction: %w", op, err)
	}
	return nil
}

func (t *transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, "commit", t.Tx.Commit)
}

func (t *transaction) Rollback(ctx context.Context) error {
	return t.finish(ctx, "roll back", t.Tx.Rollback)
}
