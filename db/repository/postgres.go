package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/7D-Solutions/gaugecore/db"
)

// querier is satisfied by both pgx transactions and the pool, letting
// reads run with or without an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// base holds the shared pool and transaction selection for every store.
type base struct {
	pg *db.PostgresDB
}

// q selects the transaction when one is open, the pool otherwise.
func (b base) q(tx db.Tx) querier {
	if tx != nil {
		return tx
	}
	return b.pg.Pool()
}

// Per-concern stores. Each implements its repository interface; keeping
// them as distinct types lets the method sets use the natural short names
// without colliding.
type (
	Gauges       struct{ base }
	Certificates struct{ base }
	Checkouts    struct{ base }
	Batches      struct{ base }
	SetIDs       struct{ base }
	Users        struct{ base }
)

// Postgres bundles the PostgreSQL-backed repository set.
type Postgres struct {
	Gauges       *Gauges
	Certificates *Certificates
	Checkouts    *Checkouts
	Batches      *Batches
	SetIDs       *SetIDs
	Users        *Users
}

// NewPostgres creates the PostgreSQL repository set over a shared pool.
func NewPostgres(pg *db.PostgresDB) *Postgres {
	b := base{pg: pg}
	return &Postgres{
		Gauges:       &Gauges{b},
		Certificates: &Certificates{b},
		Checkouts:    &Checkouts{b},
		Batches:      &Batches{b},
		SetIDs:       &SetIDs{b},
		Users:        &Users{b},
	}
}

var (
	_ GaugeRepository       = (*Gauges)(nil)
	_ CertificateRepository = (*Certificates)(nil)
	_ CheckoutRepository    = (*Checkouts)(nil)
	_ BatchRepository       = (*Batches)(nil)
	_ SetIDRepository       = (*SetIDs)(nil)
	_ UserRepository        = (*Users)(nil)
)
