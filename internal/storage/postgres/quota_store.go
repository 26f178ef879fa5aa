package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// QuotaStore persists per-user quota records with optimistic locking.
// Expected schema:
//
//	CREATE TABLE quota_records (
//		user_id TEXT PRIMARY KEY,
//		tier TEXT NOT NULL,
//		scans_used INT NOT NULL,
//		scans_limit INT NOT NULL,
//		reset_at TIMESTAMPTZ NOT NULL,
//		version BIGINT NOT NULL
//	);
type QuotaStore struct {
	pool  dbPool
	table string
}

// QuotaConfig controls the quota store connection.
type QuotaConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewQuotaStore connects a pool and returns the store.
func NewQuotaStore(ctx context.Context, cfg QuotaConfig) (*QuotaStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := newPool(ctx, Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	return NewQuotaStoreWithPool(pool, cfg.Table)
}

// NewQuotaStoreWithPool constructs a store from an existing pool,
// primarily for testing.
func NewQuotaStoreWithPool(pool dbPool, table string) (*QuotaStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "quota_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &QuotaStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool.
func (s *QuotaStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LoadQuota returns the record for the user, or found=false when the
// user has never scanned.
func (s *QuotaStore) LoadQuota(ctx context.Context, userID string) (audit.QuotaRecord, bool, error) {
	query := fmt.Sprintf(`
SELECT user_id, tier, scans_used, scans_limit, reset_at, version
FROM %s WHERE user_id = $1`, s.table)

	var record audit.QuotaRecord
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&record.UserID, &record.Tier, &record.ScansUsed,
		&record.ScansLimit, &record.ResetAt, &record.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.QuotaRecord{}, false, nil
		}
		return audit.QuotaRecord{}, false, fmt.Errorf("select quota: %w", err)
	}
	return record, true, nil
}

// SaveQuota upserts the record. The stored version must still equal
// record.Version or the write is rejected with ErrVersionConflict.
func (s *QuotaStore) SaveQuota(ctx context.Context, record audit.QuotaRecord) error {
	if record.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, tier, scans_used, scans_limit, reset_at, version)
VALUES ($1, $2, $3, $4, $5, $6 + 1)
ON CONFLICT (user_id) DO UPDATE SET
	tier = EXCLUDED.tier,
	scans_used = EXCLUDED.scans_used,
	scans_limit = EXCLUDED.scans_limit,
	reset_at = EXCLUDED.reset_at,
	version = %s.version + 1
WHERE %s.version = $6`, s.table, s.table, s.table)

	tag, err := s.pool.Exec(ctx, query,
		record.UserID, record.Tier, record.ScansUsed,
		record.ScansLimit, record.ResetAt, record.Version,
	)
	if err != nil {
		return fmt.Errorf("save quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return audit.ErrVersionConflict
	}
	return nil
}

var _ audit.QuotaStore = (*QuotaStore)(nil)
var _ audit.AuditStore = (*AuditStore)(nil)
