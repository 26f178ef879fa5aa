// Package postgres provides Postgres-backed persistence for audit
// requests, reports, and quota records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock/system"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// dbPool is the subset of pgxpool.Pool the stores use; pgxmock
// satisfies it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	RequestsTable   string
	ReportsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// Clock drives the recency cutoff in LoadRecentReport. Nil means
	// the system clock.
	Clock audit.Clock
}

// AuditStore persists requests and reports. Expected schema:
//
//	CREATE TABLE audit_requests (
//		id UUID PRIMARY KEY,
//		url TEXT NOT NULL,
//		normalized_url TEXT NOT NULL,
//		modules JSONB NOT NULL,
//		user_id TEXT NOT NULL DEFAULT '',
//		status TEXT NOT NULL,
//		error_text TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE audit_reports (
//		request_id UUID PRIMARY KEY,
//		url TEXT NOT NULL,
//		normalized_url TEXT NOT NULL,
//		user_id TEXT NOT NULL DEFAULT '',
//		overall_score INT NOT NULL,
//		module_scores JSONB NOT NULL,
//		issues JSONB NOT NULL,
//		status TEXT NOT NULL,
//		failed_modules JSONB NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		completed_at TIMESTAMPTZ NOT NULL
//	);
type AuditStore struct {
	pool     dbPool
	requests string
	reports  string
	clock    audit.Clock
}

// NewAuditStore connects a pool and returns the store.
func NewAuditStore(ctx context.Context, cfg Config) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewAuditStoreWithPool(pool, cfg.RequestsTable, cfg.ReportsTable, cfg.Clock)
}

// NewAuditStoreWithPool constructs a store from an existing pool,
// primarily for testing. A nil clock falls back to the system clock.
func NewAuditStoreWithPool(pool dbPool, requestsTable, reportsTable string, clock audit.Clock) (*AuditStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if requestsTable == "" {
		requestsTable = "audit_requests"
	}
	if reportsTable == "" {
		reportsTable = "audit_reports"
	}
	for _, table := range []string{requestsTable, reportsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	if clock == nil {
		clock = system.New()
	}
	return &AuditStore{pool: pool, requests: requestsTable, reports: reportsTable, clock: clock}, nil
}

func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Close releases the underlying pool.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRequest inserts the request with status queued.
func (s *AuditStore) CreateRequest(ctx context.Context, req audit.Request) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required")
	}
	modulesJSON, err := json.Marshal(req.Modules)
	if err != nil {
		return fmt.Errorf("marshal modules: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, normalized_url, modules, user_id, status, error_text, created_at)
VALUES ($1, $2, $3, $4, $5, $6, '', $7)`, s.requests)

	if _, err := s.pool.Exec(ctx, query,
		req.ID, req.URL, req.NormalizedURL, modulesJSON,
		req.UserID, audit.StatusQueued, req.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest loads a request by ID.
func (s *AuditStore) GetRequest(ctx context.Context, requestID string) (audit.Request, error) {
	query := fmt.Sprintf(`
SELECT id, url, normalized_url, modules, user_id, created_at
FROM %s WHERE id = $1`, s.requests)

	var (
		req         audit.Request
		modulesJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, requestID).Scan(
		&req.ID, &req.URL, &req.NormalizedURL, &modulesJSON, &req.UserID, &req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Request{}, audit.ErrRequestNotFound
		}
		return audit.Request{}, fmt.Errorf("select request: %w", err)
	}
	if err := json.Unmarshal(modulesJSON, &req.Modules); err != nil {
		return audit.Request{}, fmt.Errorf("unmarshal modules: %w", err)
	}
	return req, nil
}

// UpdateRequestStatus records the lifecycle state. Terminal rows are
// never overwritten, so late pipeline writes cannot resurrect a
// canceled request.
func (s *AuditStore) UpdateRequestStatus(ctx context.Context, requestID string, status audit.RequestStatus, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, error_text = $3
WHERE id = $1
  AND status NOT IN ('completed', 'partial_failure', 'failed', 'canceled')`, s.requests)

	tag, err := s.pool.Exec(ctx, query, requestID, status, errText)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the request is unknown or already terminal.
	var exists bool
	check := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.requests)
	if err := s.pool.QueryRow(ctx, check, requestID).Scan(&exists); err != nil {
		return fmt.Errorf("check request exists: %w", err)
	}
	if !exists {
		return audit.ErrRequestNotFound
	}
	return nil
}

// GetRequestStatus returns the lifecycle state and any error text.
func (s *AuditStore) GetRequestStatus(ctx context.Context, requestID string) (audit.RequestStatus, string, error) {
	query := fmt.Sprintf(`SELECT status, error_text FROM %s WHERE id = $1`, s.requests)

	var (
		status  audit.RequestStatus
		errText string
	)
	err := s.pool.QueryRow(ctx, query, requestID).Scan(&status, &errText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", audit.ErrRequestNotFound
		}
		return "", "", fmt.Errorf("select request status: %w", err)
	}
	return status, errText, nil
}

// SaveReport upserts the finished report.
func (s *AuditStore) SaveReport(ctx context.Context, report audit.Report) error {
	scoresJSON, err := json.Marshal(report.ModuleScores)
	if err != nil {
		return fmt.Errorf("marshal module scores: %w", err)
	}
	issuesJSON, err := json.Marshal(report.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	failedJSON, err := json.Marshal(report.FailedModules)
	if err != nil {
		return fmt.Errorf("marshal failed modules: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	request_id, url, normalized_url, user_id, overall_score,
	module_scores, issues, status, failed_modules, created_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (request_id) DO UPDATE SET
	overall_score = EXCLUDED.overall_score,
	module_scores = EXCLUDED.module_scores,
	issues = EXCLUDED.issues,
	status = EXCLUDED.status,
	failed_modules = EXCLUDED.failed_modules,
	completed_at = EXCLUDED.completed_at`, s.reports)

	if _, err := s.pool.Exec(ctx, query,
		report.RequestID, report.URL, report.NormalizedURL, report.UserID,
		report.OverallScore, scoresJSON, issuesJSON, report.Status,
		failedJSON, report.CreatedAt, report.CompletedAt,
	); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport loads a report by request ID.
func (s *AuditStore) GetReport(ctx context.Context, requestID string) (audit.Report, error) {
	query := fmt.Sprintf(`
SELECT request_id, url, normalized_url, user_id, overall_score,
	module_scores, issues, status, failed_modules, created_at, completed_at
FROM %s WHERE request_id = $1`, s.reports)

	return s.scanReport(s.pool.QueryRow(ctx, query, requestID))
}

// LoadRecentReport returns the newest fully completed report for the
// user and normalized URL inside the validity window. Partial failures
// never satisfy the lookup so the user can rescan the missing modules.
func (s *AuditStore) LoadRecentReport(ctx context.Context, userID, normalizedURL string, maxAge time.Duration) (audit.Report, bool, error) {
	query := fmt.Sprintf(`
SELECT request_id, url, normalized_url, user_id, overall_score,
	module_scores, issues, status, failed_modules, created_at, completed_at
FROM %s
WHERE user_id = $1
  AND normalized_url = $2
  AND status = 'completed'
  AND completed_at >= $3
ORDER BY completed_at DESC
LIMIT 1`, s.reports)

	cutoff := s.clock.Now().Add(-maxAge)
	report, err := s.scanReport(s.pool.QueryRow(ctx, query, userID, normalizedURL, cutoff))
	if err != nil {
		if errors.Is(err, audit.ErrReportNotFound) {
			return audit.Report{}, false, nil
		}
		return audit.Report{}, false, err
	}
	return report, true, nil
}

// ListRequests returns a user's requests, newest first.
func (s *AuditStore) ListRequests(ctx context.Context, userID string, limit int) ([]audit.Request, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, url, normalized_url, modules, user_id, created_at
FROM %s
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, s.requests)

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []audit.Request
	for rows.Next() {
		var (
			req         audit.Request
			modulesJSON []byte
		)
		if err := rows.Scan(&req.ID, &req.URL, &req.NormalizedURL, &modulesJSON, &req.UserID, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		if err := json.Unmarshal(modulesJSON, &req.Modules); err != nil {
			return nil, fmt.Errorf("unmarshal modules: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

func (s *AuditStore) scanReport(row pgx.Row) (audit.Report, error) {
	var (
		report     audit.Report
		scoresJSON []byte
		issuesJSON []byte
		failedJSON []byte
	)
	err := row.Scan(
		&report.RequestID, &report.URL, &report.NormalizedURL, &report.UserID,
		&report.OverallScore, &scoresJSON, &issuesJSON, &report.Status,
		&failedJSON, &report.CreatedAt, &report.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Report{}, audit.ErrReportNotFound
		}
		return audit.Report{}, fmt.Errorf("select report: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &report.ModuleScores); err != nil {
		return audit.Report{}, fmt.Errorf("unmarshal module scores: %w", err)
	}
	if err := json.Unmarshal(issuesJSON, &report.Issues); err != nil {
		return audit.Report{}, fmt.Errorf("unmarshal issues: %w", err)
	}
	if err := json.Unmarshal(failedJSON, &report.FailedModules); err != nil {
		return audit.Report{}, fmt.Errorf("unmarshal failed modules: %w", err)
	}
	return report, nil
}
