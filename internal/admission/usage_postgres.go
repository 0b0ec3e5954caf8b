package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const usageSchema = `
	CREATE TABLE IF NOT EXISTS sticker_usage (
		identity   TEXT PRIMARY KEY,
		usage_date DATE NOT NULL,
		count      INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// The WHERE clause makes the upsert a no-op once today's count reached the
// limit, in which case no row is returned.
const consumeQuery = `
	INSERT INTO sticker_usage AS u (identity, usage_date, count, updated_at)
	VALUES ($1, $2, 1, NOW())
	ON CONFLICT (identity) DO UPDATE
	SET count = CASE WHEN u.usage_date = EXCLUDED.usage_date THEN u.count + 1 ELSE 1 END,
	    usage_date = EXCLUDED.usage_date,
	    updated_at = NOW()
	WHERE u.usage_date <> EXCLUDED.usage_date OR u.count < $3
	RETURNING count
`

const getUsageQuery = `
	SELECT identity, to_char(usage_date, 'YYYY-MM-DD') AS usage_date, count
	FROM sticker_usage
	WHERE identity = $1
`

// PostgresUsageStore shares usage counters between intake processes.
type PostgresUsageStore struct {
	db *sqlx.DB
}

func NewPostgresUsageStore(db *sqlx.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

// EnsureSchema creates the usage table if it does not exist.
func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchema); err != nil {
		return fmt.Errorf("failed to create usage table: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Consume(ctx context.Context, identity, day string, limit int) (bool, error) {
	var count int
	err := s.db.QueryRowxContext(ctx, consumeQuery, identity, day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume usage: %w", err)
	}
	return true, nil
}

func (s *PostgresUsageStore) Get(ctx context.Context, identity string) (UsageRecord, bool, error) {
	var rec UsageRecord
	err := s.db.GetContext(ctx, &rec, getUsageQuery, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return UsageRecord{}, false, nil
	}
	if err != nil {
		return UsageRecord{}, false, fmt.Errorf("failed to get usage: %w", err)
	}
	return rec, true, nil
}
