package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/core"
)

// Retry policy: only transient database errors are retried, up to
// MaxAttempts with exponential backoff starting at InitialBackoff.
// Constraint violations, illegal transitions and other domain errors are
// never retried.
const (
	MaxAttempts    = 3
	InitialBackoff = 500 * time.Millisecond
)

// Transient PostgreSQL error classes: serialization failure, deadlock,
// lock-not-available, and connection exceptions.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether err is a retryable database failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return core.KindOf(err) == core.KindTransient
}

// Classify converts a raw database error into the core taxonomy. Context
// deadline errors become Timeout; transient classes become Transient;
// everything else passes through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Timeout(op, err)
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if IsTransient(err) {
		return core.Transient(op, err)
	}
	return err
}

// WithRetry runs fn, retrying transient failures with exponential backoff.
// The final error, transient or not, surfaces unchanged to the caller.
func WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := InitialBackoff
	var err error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == MaxAttempts {
			break
		}

		common.Logger.WithField("operation", op).
			WithField("attempt", attempt).
			Warnf("transient database error, retrying in %s: %v", backoff, err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return Classify(op, err)
}
