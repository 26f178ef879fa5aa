package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/quota"
)

type stubQuota struct {
	decision quota.Decision
	err      error
	checked  []audit.Request
}

func (q *stubQuota) CheckAndReserve(_ context.Context, req audit.Request) (quota.Decision, error) {
	q.checked = append(q.checked, req)
	if q.err != nil {
		return quota.Decision{}, q.err
	}
	return q.decision, nil
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return string(rune('a'-1+g.n)) + "-id", nil
}

func newTestService(quotaStub *stubQuota) (*Service, *memQueue, *memStore) {
	queue := newMemQueue()
	store := newMemStore()
	svc := NewService(queue, store, quotaStub, &seqIDs{}, sysClock{}, &captureEmitter{}, nil, zap.NewNop())
	return svc, queue, store
}

func TestSubmitEnqueuesValidatedRequest(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{decision: quota.Decision{Allowed: true, Remaining: 4}}
	svc, queue, store := newTestService(stub)

	sub, err := svc.Submit(context.Background(), "HTTPS://Example.com/Page/?b=2&a=1", nil, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, sub.RequestID)
	require.Nil(t, sub.Cached)
	require.Equal(t, 4, sub.Remaining)

	job, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, sub.RequestID, job.RequestID)
	require.Equal(t, "https://example.com/Page?a=1&b=2", job.Request.NormalizedURL)
	require.Equal(t, audit.AllModuleKinds(), job.Request.Modules, "empty module list means all modules")

	require.Equal(t, audit.StatusQueued, store.status(sub.RequestID))
}

func TestSubmitRejectsBadTargets(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{decision: quota.Decision{Allowed: true}}
	svc, _, _ := newTestService(stub)

	cases := []struct {
		name string
		url  string
		want error
	}{
		{"bad scheme", "ftp://example.com/", audit.ErrInvalidURL},
		{"not a url", "://nope", audit.ErrInvalidURL},
		{"loopback", "http://127.0.0.1/admin", audit.ErrPrivateAddress},
		{"private range", "http://10.0.0.8/", audit.ErrPrivateAddress},
		{"localhost", "http://localhost:8080/", audit.ErrPrivateAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Submit(context.Background(), tc.url, nil, "user-1")
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, stub.checked, "rejected requests never reach the quota service")
}

func TestSubmitRejectsUnknownModule(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{decision: quota.Decision{Allowed: true}}
	svc, _, _ := newTestService(stub)

	_, err := svc.Submit(context.Background(), "https://example.com/",
		[]audit.ModuleKind{audit.ModuleSEO, "palm-reading"}, "user-1")
	require.ErrorIs(t, err, audit.ErrUnknownModule)
}

func TestSubmitOverLimit(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{err: audit.ErrLimitReached}
	svc, queue, _ := newTestService(stub)

	_, err := svc.Submit(context.Background(), "https://example.com/", nil, "user-1")
	require.ErrorIs(t, err, audit.ErrLimitReached)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = queue.Dequeue(ctx)
	require.Error(t, err, "over-limit requests are never enqueued")
}

func TestSubmitServedFromCache(t *testing.T) {
	t.Parallel()

	cached := &audit.Report{RequestID: "prior-id", OverallScore: 91, Status: audit.StatusCompleted}
	stub := &stubQuota{decision: quota.Decision{Allowed: true, Cached: cached, Remaining: -1}}
	svc, queue, _ := newTestService(stub)

	sub, err := svc.Submit(context.Background(), "https://example.com/", nil, "user-1")
	require.NoError(t, err)
	require.Equal(t, "prior-id", sub.RequestID)
	require.NotNil(t, sub.Cached)
	require.Equal(t, 91, sub.Cached.OverallScore)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = queue.Dequeue(ctx)
	require.Error(t, err, "cache hits skip the queue entirely")
}

func TestCancelQueuedRequest(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{decision: quota.Decision{Allowed: true}}
	svc, _, store := newTestService(stub)

	sub, err := svc.Submit(context.Background(), "https://example.com/", nil, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), sub.RequestID))
	require.Equal(t, audit.StatusCanceled, store.status(sub.RequestID))

	err = svc.Cancel(context.Background(), sub.RequestID)
	require.ErrorIs(t, err, audit.ErrAlreadyFinished, "terminal requests cannot be canceled")
}

func TestCancelUnknownRequest(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{decision: quota.Decision{Allowed: true}}
	svc, _, _ := newTestService(stub)

	err := svc.Cancel(context.Background(), "no-such-id")
	require.ErrorIs(t, err, audit.ErrRequestNotFound)
}

func TestReportLookup(t *testing.T) {
	t.Parallel()

	stub := &stubQuota{decision: quota.Decision{Allowed: true}}
	svc, _, store := newTestService(stub)

	_, err := svc.Report(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrReportNotFound)

	require.NoError(t, store.SaveReport(context.Background(), audit.Report{
		RequestID: "done", OverallScore: 77, Status: audit.StatusCompleted,
	}))
	report, err := svc.Report(context.Background(), "done")
	require.NoError(t, err)
	require.Equal(t, 77, report.OverallScore)
}
