// Package testutil provides test helpers: database container management and
// an in-memory wire client for gateway tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/piratewind/worldcore/internal/config"
	"github.com/piratewind/worldcore/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "worldcore",
			"POSTGRES_PASSWORD": "worldcore",
			"POSTGRES_DB":       "worldcore_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "worldcore",
		Password:        "worldcore",
		Name:            "worldcore_test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pc
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment; the
// statements mirror the files under migrations/.
//
// Precondition: Pool must be connected.
// Postcondition: The users and characters tables exist in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL    PRIMARY KEY,
			username      VARCHAR(64)  NOT NULL UNIQUE,
			password_hash TEXT         NOT NULL,
			created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users (username);

		CREATE TABLE IF NOT EXISTS characters (
			id                    BIGSERIAL    PRIMARY KEY,
			user_id               BIGINT       NOT NULL REFERENCES users (id) ON DELETE CASCADE,
			shard_id              VARCHAR(32)  NOT NULL DEFAULT 'overworld',
			name                  VARCHAR(64)  NOT NULL,
			class_id              VARCHAR(32)  NOT NULL DEFAULT 'wanderer',
			level                 INT          NOT NULL DEFAULT 1,
			xp                    BIGINT       NOT NULL DEFAULT 0,
			x                     DOUBLE PRECISION NOT NULL DEFAULT 0,
			y                     DOUBLE PRECISION NOT NULL DEFAULT 0,
			z                     DOUBLE PRECISION NOT NULL DEFAULT 0,
			rot_y                 DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_region_id        VARCHAR(64)  NOT NULL DEFAULT '',
			attributes            JSONB        NOT NULL DEFAULT '{}',
			inventory             JSONB        NOT NULL DEFAULT '{}',
			equipment             JSONB        NOT NULL DEFAULT '{}',
			spellbook             JSONB        NOT NULL DEFAULT '[]',
			abilities             JSONB        NOT NULL DEFAULT '[]',
			progression           JSONB        NOT NULL DEFAULT '{}',
			recent_crime_until    TIMESTAMPTZ,
			recent_crime_severity VARCHAR(16)  NOT NULL DEFAULT 'none',
			max_hp                INT          NOT NULL DEFAULT 100,
			current_hp            INT          NOT NULL DEFAULT 100,
			created_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (shard_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_characters_user_id ON characters (user_id);
	`

	_, err := pc.RawPool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// SeedUser inserts a user row and returns its id.
func (pc *PostgresContainer) SeedUser(t *testing.T, username string) int64 {
	t.Helper()
	var id int64
	err := pc.RawPool.QueryRow(context.Background(),
		`INSERT INTO users (username, password_hash) VALUES ($1, 'x') RETURNING id`,
		username,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return id
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
