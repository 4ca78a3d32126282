// Package testing provides testcontainer helpers for integration tests.
// Containers are ephemeral; each test run gets a clean database.
package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerCleanup terminates a test container. Safe to call on failure.
type ContainerCleanup func()

// PostgresConfig holds PostgreSQL testcontainer settings.
type PostgresConfig struct {
	Image          string
	Username       string
	Password       string
	Database       string
	StartupTimeout time.Duration
}

// DefaultPostgresConfig returns the container settings used by the
// integration suite.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Image:          "postgres:17",
		Username:       "postgres",
		Password:       "postgres",
		Database:       "gaugecore_test",
		StartupTimeout: 60 * time.Second,
	}
}

// SetupPostgres starts a PostgreSQL container and returns its connection
// string plus a cleanup function.
func SetupPostgres(ctx context.Context, cfg *PostgresConfig) (string, ContainerCleanup, error) {
	if cfg == nil {
		def := DefaultPostgresConfig()
		cfg = &def
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":        cfg.Username,
			"POSTGRES_PASSWORD":    cfg.Password,
			"POSTGRES_DB":          cfg.Database,
			"POSTGRES_INITDB_ARGS": "--auth-host=scram-sha-256",
		},
		// PostgreSQL logs readiness twice during startup.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("failed to get mapped port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Username, cfg.Password, host, port.Port(), cfg.Database)

	cleanup := func() {
		if err := container.Terminate(context.Background()); err != nil {
			fmt.Printf("failed to terminate PostgreSQL container: %v\n", err)
		}
	}
	return connStr, cleanup, nil
}
