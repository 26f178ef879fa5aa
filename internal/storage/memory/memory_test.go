package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "audits/r1/page.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "memory://audits/r1/page.html", uri)

	data, ok := s.Object("audits/r1/page.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html/>"), data)
}

func TestAuditStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewAuditStore(fixedClock{now: time.Now()})
	req := audit.Request{ID: "r1", URL: "https://example.com/", NormalizedURL: "https://example.com", UserID: "u1"}
	require.NoError(t, s.CreateRequest(context.Background(), req))

	status, _, err := s.GetRequestStatus(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusQueued, status)

	require.NoError(t, s.UpdateRequestStatus(context.Background(), "r1", audit.StatusFetching, ""))
	require.NoError(t, s.UpdateRequestStatus(context.Background(), "r1", audit.StatusCanceled, "canceled by user"))

	// Terminal status wins over late pipeline writes.
	require.NoError(t, s.UpdateRequestStatus(context.Background(), "r1", audit.StatusAnalyzing, ""))
	status, errText, err := s.GetRequestStatus(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusCanceled, status)
	require.Equal(t, "canceled by user", errText)
}

func TestAuditStoreUnknownRequest(t *testing.T) {
	t.Parallel()

	s := NewAuditStore(fixedClock{now: time.Now()})
	_, err := s.GetRequest(context.Background(), "ghost")
	require.ErrorIs(t, err, audit.ErrRequestNotFound)
	_, err = s.GetReport(context.Background(), "ghost")
	require.ErrorIs(t, err, audit.ErrReportNotFound)
	err = s.UpdateRequestStatus(context.Background(), "ghost", audit.StatusFetching, "")
	require.ErrorIs(t, err, audit.ErrRequestNotFound)
}

func TestLoadRecentReportPicksNewestInWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	s := NewAuditStore(fixedClock{now: now})

	save := func(id string, completedAt time.Time, status audit.RequestStatus) {
		require.NoError(t, s.SaveReport(context.Background(), audit.Report{
			RequestID:     id,
			UserID:        "u1",
			NormalizedURL: "https://example.com",
			Status:        status,
			CompletedAt:   completedAt,
		}))
	}
	save("stale", now.Add(-30*time.Hour), audit.StatusCompleted)
	save("older", now.Add(-10*time.Hour), audit.StatusCompleted)
	save("newest", now.Add(-time.Hour), audit.StatusCompleted)
	save("partial", now.Add(-time.Minute), audit.StatusPartialFailure)
	save("failed", now.Add(-time.Minute), audit.StatusFailed)

	report, found, err := s.LoadRecentReport(context.Background(), "u1", "https://example.com", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "newest", report.RequestID)

	_, found, err = s.LoadRecentReport(context.Background(), "u2", "https://example.com", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLoadRecentReportIgnoresPartialFailure(t *testing.T) {
	t.Parallel()

	// A report missing a module must not satisfy the lookup, or the
	// user could never rescan until the window expires.
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	s := NewAuditStore(fixedClock{now: now})
	require.NoError(t, s.SaveReport(context.Background(), audit.Report{
		RequestID:     "partial",
		UserID:        "u1",
		NormalizedURL: "https://example.com",
		Status:        audit.StatusPartialFailure,
		FailedModules: []audit.ModuleKind{audit.ModuleContrast},
		CompletedAt:   now.Add(-time.Minute),
	}))

	_, found, err := s.LoadRecentReport(context.Background(), "u1", "https://example.com", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, found)
}

func TestQuotaStoreOptimisticLocking(t *testing.T) {
	t.Parallel()

	s := NewQuotaStore()
	record := audit.QuotaRecord{UserID: "u1", Tier: audit.TierFree, ScansLimit: 5}
	require.NoError(t, s.SaveQuota(context.Background(), record))

	loaded, found, err := s.LoadQuota(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), loaded.Version)

	// A writer holding the current version succeeds.
	loaded.ScansUsed = 1
	require.NoError(t, s.SaveQuota(context.Background(), loaded))

	// A writer holding the stale version conflicts.
	err = s.SaveQuota(context.Background(), record)
	require.ErrorIs(t, err, audit.ErrVersionConflict)
}

func TestListRequestsNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewAuditStore(fixedClock{now: now})
	ctx := context.Background()

	for i, id := range []string{"req-a", "req-b", "req-c"} {
		require.NoError(t, s.CreateRequest(ctx, audit.Request{
			ID:        id,
			URL:       "https://example.com/" + id,
			UserID:    "user-1",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.CreateRequest(ctx, audit.Request{
		ID:        "req-other",
		UserID:    "user-2",
		CreatedAt: now,
	}))

	reqs, err := s.ListRequests(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, "req-c", reqs[0].ID)
	require.Equal(t, "req-b", reqs[1].ID)

	reqs, err = s.ListRequests(ctx, "nobody", 10)
	require.NoError(t, err)
	require.Empty(t, reqs)
}
