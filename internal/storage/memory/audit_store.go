package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// AuditStore keeps requests and reports in maps. It backs local
// development and most orchestrator tests.
type AuditStore struct {
	mu       sync.RWMutex
	requests map[string]audit.Request
	statuses map[string]audit.RequestStatus
	errTexts map[string]string
	reports  map[string]audit.Report
	clock    audit.Clock
}

// NewAuditStore creates an empty store. The clock drives the recency
// check in LoadRecentReport.
func NewAuditStore(clock audit.Clock) *AuditStore {
	return &AuditStore{
		requests: make(map[string]audit.Request),
		statuses: make(map[string]audit.RequestStatus),
		errTexts: make(map[string]string),
		reports:  make(map[string]audit.Report),
		clock:    clock,
	}
}

// CreateRequest stores the request with status queued.
func (s *AuditStore) CreateRequest(_ context.Context, req audit.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	s.statuses[req.ID] = audit.StatusQueued
	return nil
}

// GetRequest loads a request by ID.
func (s *AuditStore) GetRequest(_ context.Context, requestID string) (audit.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return audit.Request{}, audit.ErrRequestNotFound
	}
	return req, nil
}

// UpdateRequestStatus records the request's lifecycle state. Writes
// against a terminal state are ignored so status updates racing a
// cancellation cannot resurrect the request.
func (s *AuditStore) UpdateRequestStatus(_ context.Context, requestID string, status audit.RequestStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return audit.ErrRequestNotFound
	}
	if current, ok := s.statuses[requestID]; ok && current.Terminal() {
		return nil
	}
	s.statuses[requestID] = status
	s.errTexts[requestID] = errText
	return nil
}

// GetRequestStatus returns the lifecycle state and any error text.
func (s *AuditStore) GetRequestStatus(_ context.Context, requestID string) (audit.RequestStatus, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[requestID]
	if !ok {
		return "", "", audit.ErrRequestNotFound
	}
	return status, s.errTexts[requestID], nil
}

// SaveReport stores the finished report.
func (s *AuditStore) SaveReport(_ context.Context, report audit.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RequestID] = report
	return nil
}

// GetReport loads a report by request ID.
func (s *AuditStore) GetReport(_ context.Context, requestID string) (audit.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[requestID]
	if !ok {
		return audit.Report{}, audit.ErrReportNotFound
	}
	return report, nil
}

// LoadRecentReport returns the newest completed report for the user
// and normalized URL inside the validity window.
func (s *AuditStore) LoadRecentReport(_ context.Context, userID, normalizedURL string, maxAge time.Duration) (audit.Report, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.clock.Now().Add(-maxAge)
	var (
		newest audit.Report
		found  bool
	)
	for _, report := range s.reports {
		if report.UserID != userID || report.NormalizedURL != normalizedURL {
			continue
		}
		// Only fully completed reports satisfy a cache hit; a partial
		// failure would lock the user out of the rescan that fills it in.
		if report.Status != audit.StatusCompleted {
			continue
		}
		if report.CompletedAt.Before(cutoff) {
			continue
		}
		if !found || report.CompletedAt.After(newest.CompletedAt) {
			newest = report
			found = true
		}
	}
	return newest, found, nil
}

// ListRequests returns a user's requests, newest first.
func (s *AuditStore) ListRequests(_ context.Context, userID string, limit int) ([]audit.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Request, 0, 8)
	for _, req := range s.requests {
		if req.UserID == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
