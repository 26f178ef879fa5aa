package audit

import (
	"context"
	"time"
)

// AuditStore persists requests and finished reports.
type AuditStore interface {
	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, requestID string) (Request, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status RequestStatus, errText string) error
	GetRequestStatus(ctx context.Context, requestID string) (RequestStatus, string, error)
	SaveReport(ctx context.Context, report Report) error
	GetReport(ctx context.Context, requestID string) (Report, error)
	LoadRecentReport(ctx context.Context, userID, normalizedURL string, maxAge time.Duration) (Report, bool, error)
	ListRequests(ctx context.Context, userID string, limit int) ([]Request, error)
}

// QuotaStore persists per-user quota records. SaveQuota must fail with
// ErrVersionConflict when the stored Version no longer matches, so
// concurrent increments never lose updates.
type QuotaStore interface {
	LoadQuota(ctx context.Context, userID string) (QuotaRecord, bool, error)
	SaveQuota(ctx context.Context, record QuotaRecord) error
}

// BlobStore writes raw artifacts (HTML snapshots, screenshots) and
// returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for audit jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Hasher computes digests for artifact deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
