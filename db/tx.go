package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Tx is the transaction handle passed explicitly through every component
// operation that writes two or more rows. Components never discover a
// transaction from ambient context; the handle is always a parameter.
type Tx = pgx.Tx

// Runner opens, commits and rolls back transactions. The PostgresDB
// implements it against the real pool; tests provide in-memory runners.
type Runner interface {
	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Cancellation of ctx before
	// commit rolls back; after commit, the commit stands.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// WithTx implements Runner. The whole transaction is bounded by the
// acquire timeout plus per-statement query timeouts applied by the caller's
// statements.
func (db *PostgresDB) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockRows acquires row locks on the gauges with the given internal ids,
// in ascending id order to avoid deadlock between concurrent cohort
// operations. Callers pass ids pre-sorted by gauge.CohortFor.
func LockRows(ctx context.Context, tx Tx, table string, ids []int64) error {
	for _, id := range ids {
		var locked int64
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, table), id,
		).Scan(&locked)
		if err != nil {
			return fmt.Errorf("failed to lock %s row %d: %w", table, id, err)
		}
	}
	return nil
}
