package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7D-Solutions/gaugecore/core"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsTransient(core.Transient("pool exhausted", nil)))
	assert.False(t, IsTransient(core.Conflict("duplicate")))
	assert.False(t, IsTransient(nil))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("op", nil))

	err := Classify("gauge.create", context.DeadlineExceeded)
	assert.Equal(t, core.KindTimeout, core.KindOf(err))

	// Core errors pass through unchanged.
	orig := core.NotFound("gauge", "1")
	assert.Equal(t, error(orig), Classify("op", orig))

	plain := errors.New("boom")
	assert.Equal(t, plain, Classify("op", plain))
}

func TestWithRetryStopsOnDomainError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return core.Conflict("duplicate serial")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
}

func TestWithRetryRecoversTransient(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, "op", func(ctx context.Context) error {
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
