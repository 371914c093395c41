package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

type settingRecord struct {
	bun.BaseModel `bun:"table:Setting"`

	Key   string `bun:"Key,pk"`
	Value string `bun:"Value,notnull"`
}

// SQLite stores settings in the Setting table of the app database.
type SQLite struct {
	db *bun.DB
}

// NewSQLite creates the Setting table if needed. db is usually the one the resource store
// opened, so both tables live in the same file.
func NewSQLite(ctx context.Context, db *bun.DB) (*SQLite, error) {
	_, err := db.NewCreateTable().
		Model((*settingRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: create table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	rec := new(settingRecord)
	err := s.db.NewSelect().
		Model(rec).
		Where("? = ?", bun.Ident("Key"), key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %q: %w", key, err)
	}
	return rec.Value, true, nil
}

func (s *SQLite) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	recs := make([]settingRecord, 0, len(values))
	for k, v := range values {
		recs = append(recs, settingRecord{Key: k, Value: v})
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&recs).
			On("CONFLICT (?) DO UPDATE", bun.Ident("Key")).
			Set("? = EXCLUDED.?", bun.Ident("Value"), bun.Ident("Value")).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("settings: set: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*settingRecord)(nil)).
		Where("? IN (?)", bun.Ident("Key"), bun.In(keys)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("settings: delete: %w", err)
	}
	return nil
}
