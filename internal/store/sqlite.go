package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/pkg/model"
)

type webResourceRecord struct {
	bun.BaseModel `bun:"table:WebResource"`

	URL      string    `bun:"Url,pk"`
	Response string    `bun:"Response,notnull"`
	EOL      time.Time `bun:"EOL,notnull"`
}

func newRecord(r *model.CachedResource) *webResourceRecord {
	return &webResourceRecord{URL: r.URL, Response: r.Payload, EOL: r.ExpiresAt.UTC()}
}

func (w *webResourceRecord) toModel() *model.CachedResource {
	return &model.CachedResource{URL: w.URL, Payload: w.Response, ExpiresAt: w.EOL}
}

// OpenSQLite opens the local database file (or a "file:...?mode=memory" DSN) with bun.
// SQLite allows one writer at a time, so the pool is pinned to a single connection.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// SQLiteStore keeps the resource table in the app-local SQLite database.
type SQLiteStore struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSQLite wraps an open bun DB. The caller should run EnsureSchema once at startup.
func NewSQLite(db *bun.DB, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*webResourceRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		s.fail("ensure_schema", "", err)
		return fmt.Errorf("sqlite: create %s: %w", TableName, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, url string) (*model.CachedResource, bool) {
	rec := new(webResourceRecord)
	err := s.db.NewSelect().
		Model(rec).
		Where("? = ?", bun.Ident("Url"), url).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.fail("get", url, err)
		return nil, false
	}
	return rec.toModel(), true
}

// Put updates the row for r.URL and inserts it when no row was touched. The insert carries
// an ON CONFLICT clause so a concurrent first write of the same URL becomes an update.
func (s *SQLiteStore) Put(ctx context.Context, r *model.CachedResource) error {
	rec := newRecord(r)

	res, err := s.db.NewUpdate().
		Model(rec).
		WherePK().
		Exec(ctx)
	if err != nil {
		s.fail("put", r.URL, err)
		return fmt.Errorf("sqlite: update %q: %w", r.URL, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = s.db.NewInsert().
		Model(rec).
		On("CONFLICT (?) DO UPDATE", bun.Ident("Url")).
		Set("? = EXCLUDED.?", bun.Ident("Response"), bun.Ident("Response")).
		Set("? = EXCLUDED.?", bun.Ident("EOL"), bun.Ident("EOL")).
		Exec(ctx)
	if err != nil {
		s.fail("put", r.URL, err)
		return fmt.Errorf("sqlite: insert %q: %w", r.URL, err)
	}
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*webResourceRecord)(nil)).
		Where("1 = 1").
		Exec(ctx)
	if err != nil {
		s.fail("clear", "", err)
		return fmt.Errorf("sqlite: clear %s: %w", TableName, err)
	}
	return nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) fail(op, url string, err error) {
	metrics.IncStoreError("sqlite", op)
	s.logger.Warn("store.sqlite."+op+"_failed",
		zap.String("url", url),
		zap.Error(err))
}
