package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/pkg/model"
)

// pgConn is the subset of *pgxpool.Pool the store uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PGPoolConfig tunes the pgx connection pool; zero values keep pgx defaults.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresStore keeps the resource table in a shared Postgres database.
type PostgresStore struct {
	pg     pgConn
	logger *zap.Logger
}

// NewPostgres parses pgURL, applies the pool settings and connects.
func NewPostgres(ctx context.Context, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStore{pg: pool, logger: logger}, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pg.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS "WebResource" (
			"Url"      TEXT PRIMARY KEY,
			"Response" TEXT NOT NULL,
			"EOL"      TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		s.fail("ensure_schema", "", err)
		return fmt.Errorf("postgres: create %s: %w", TableName, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, url string) (*model.CachedResource, bool) {
	r := model.CachedResource{}
	err := s.pg.QueryRow(ctx,
		`SELECT "Url", "Response", "EOL" FROM "WebResource" WHERE "Url" = $1`, url).
		Scan(&r.URL, &r.Payload, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.fail("get", url, err)
		return nil, false
	}
	return &r, true
}

func (s *PostgresStore) Put(ctx context.Context, r *model.CachedResource) error {
	tag, err := s.pg.Exec(ctx,
		`UPDATE "WebResource" SET "Response" = $2, "EOL" = $3 WHERE "Url" = $1`,
		r.URL, r.Payload, r.ExpiresAt.UTC())
	if err != nil {
		s.fail("put", r.URL, err)
		return fmt.Errorf("postgres: update %q: %w", r.URL, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.pg.Exec(ctx, `
		INSERT INTO "WebResource" ("Url", "Response", "EOL")
		VALUES ($1, $2, $3)
		ON CONFLICT ("Url") DO UPDATE SET
			"Response" = EXCLUDED."Response",
			"EOL" = EXCLUDED."EOL"`,
		r.URL, r.Payload, r.ExpiresAt.UTC())
	if err != nil {
		s.fail("put", r.URL, err)
		return fmt.Errorf("postgres: insert %q: %w", r.URL, err)
	}
	return nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	if _, err := s.pg.Exec(ctx, `DELETE FROM "WebResource"`); err != nil {
		s.fail("clear", "", err)
		return fmt.Errorf("postgres: clear %s: %w", TableName, err)
	}
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.pg == nil {
		return fmt.Errorf("postgres unavailable")
	}
	if err := s.pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.pg != nil {
		s.pg.Close()
	}
	return nil
}

func (s *PostgresStore) fail(op, url string, err error) {
	metrics.IncStoreError("postgres", op)
	s.logger.Warn("store.postgres."+op+"_failed",
		zap.String("url", url),
		zap.Error(err))
}
