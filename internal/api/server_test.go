package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/orchestrator"
)

type fakeAudits struct {
	submitFn func(ctx context.Context, rawURL string, kinds []audit.ModuleKind, userID string) (orchestrator.Submission, error)
	cancelFn func(ctx context.Context, requestID string) error
	statusFn func(ctx context.Context, requestID string) (audit.RequestStatus, string, error)
	reportFn func(ctx context.Context, requestID string) (audit.Report, error)
	listFn   func(ctx context.Context, userID string, limit int) ([]audit.Request, error)

	lastUserID string
}

func (f *fakeAudits) Submit(ctx context.Context, rawURL string, kinds []audit.ModuleKind, userID string) (orchestrator.Submission, error) {
	f.lastUserID = userID
	if f.submitFn != nil {
		return f.submitFn(ctx, rawURL, kinds, userID)
	}
	return orchestrator.Submission{RequestID: "req-1", Remaining: 4}, nil
}

func (f *fakeAudits) Cancel(ctx context.Context, requestID string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, requestID)
	}
	return nil
}

func (f *fakeAudits) Status(ctx context.Context, requestID string) (audit.RequestStatus, string, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, requestID)
	}
	return audit.StatusQueued, "", nil
}

func (f *fakeAudits) Report(ctx context.Context, requestID string) (audit.Report, error) {
	if f.reportFn != nil {
		return f.reportFn(ctx, requestID)
	}
	return audit.Report{RequestID: requestID}, nil
}

func (f *fakeAudits) List(ctx context.Context, userID string, limit int) ([]audit.Request, error) {
	f.lastUserID = userID
	if f.listFn != nil {
		return f.listFn(ctx, userID, limit)
	}
	return nil, nil
}

func newTestServer(t *testing.T, audits Audits, mutate ...func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Config{Server: config.ServerConfig{Port: 8080, RequestTimeout: 5}}
	for _, fn := range mutate {
		fn(&cfg)
	}
	srv := NewServer(audits, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any, headers map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSubmitAuditAccepted(t *testing.T) {
	t.Parallel()

	fake := &fakeAudits{}
	ts := newTestServer(t, fake)

	resp := postJSON(t, ts.URL+"/v1/audits",
		map[string]any{"url": "https://example.com", "modules": []string{"seo"}},
		map[string]string{"X-User-ID": "user-1"})

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body submitResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "req-1", body.RequestID)
	require.Equal(t, "queued", body.Status)
	require.NotNil(t, body.Remaining)
	require.Equal(t, 4, *body.Remaining)
	require.Equal(t, "user-1", fake.lastUserID)
}

func TestSubmitAuditCachedReport(t *testing.T) {
	t.Parallel()

	cached := &audit.Report{
		RequestID:    "req-old",
		OverallScore: 88,
		Status:       audit.StatusCompleted,
		Expired:      false,
	}
	fake := &fakeAudits{
		submitFn: func(context.Context, string, []audit.ModuleKind, string) (orchestrator.Submission, error) {
			return orchestrator.Submission{RequestID: "req-old", Cached: cached, Remaining: 3}, nil
		},
	}
	ts := newTestServer(t, fake)

	resp := postJSON(t, ts.URL+"/v1/audits", map[string]any{"url": "https://example.com"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body submitResponse
	decodeBody(t, resp, &body)
	require.True(t, body.Cached)
	require.NotNil(t, body.Report)
	require.Equal(t, 88, body.Report.OverallScore)
}

func TestSubmitAuditErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid url", audit.ErrInvalidURL, http.StatusBadRequest},
		{"private address", audit.ErrPrivateAddress, http.StatusBadRequest},
		{"unknown module", audit.ErrUnknownModule, http.StatusBadRequest},
		{"limit reached", audit.ErrLimitReached, http.StatusTooManyRequests},
		{"internal", fmt.Errorf("queue full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := &fakeAudits{
				submitFn: func(context.Context, string, []audit.ModuleKind, string) (orchestrator.Submission, error) {
					return orchestrator.Submission{}, fmt.Errorf("submit: %w", tt.err)
				},
			}
			ts := newTestServer(t, fake)
			resp := postJSON(t, ts.URL+"/v1/audits", map[string]any{"url": "x"}, nil)
			resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSubmitAuditRejectsBadJSON(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeAudits{})
	resp, err := http.Post(ts.URL+"/v1/audits", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAuditStatus(t *testing.T) {
	t.Parallel()

	fake := &fakeAudits{
		statusFn: func(_ context.Context, requestID string) (audit.RequestStatus, string, error) {
			if requestID == "missing" {
				return "", "", audit.ErrRequestNotFound
			}
			return audit.StatusFailed, "navigation failed", nil
		},
	}
	ts := newTestServer(t, fake)

	resp, err := http.Get(ts.URL + "/v1/audits/req-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body statusResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "failed", body.Status)
	require.Equal(t, "navigation failed", body.Error)

	resp, err = http.Get(ts.URL + "/v1/audits/missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetAuditReport(t *testing.T) {
	t.Parallel()

	fake := &fakeAudits{
		reportFn: func(_ context.Context, requestID string) (audit.Report, error) {
			if requestID == "pending" {
				return audit.Report{}, audit.ErrReportNotFound
			}
			return audit.Report{RequestID: requestID, OverallScore: 73, Status: audit.StatusCompleted}, nil
		},
	}
	ts := newTestServer(t, fake)

	resp, err := http.Get(ts.URL + "/v1/audits/req-1/report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report audit.Report
	decodeBody(t, resp, &report)
	require.Equal(t, 73, report.OverallScore)

	resp, err = http.Get(ts.URL + "/v1/audits/pending/report")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelAudit(t *testing.T) {
	t.Parallel()

	fake := &fakeAudits{
		cancelFn: func(_ context.Context, requestID string) error {
			switch requestID {
			case "missing":
				return audit.ErrRequestNotFound
			case "done":
				return fmt.Errorf("%w: request done is completed", audit.ErrAlreadyFinished)
			}
			return nil
		},
	}
	ts := newTestServer(t, fake)

	resp := postJSON(t, ts.URL+"/v1/audits/req-1/cancel", nil, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/audits/missing/cancel", nil, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/audits/done/cancel", nil, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListAudits(t *testing.T) {
	t.Parallel()

	fake := &fakeAudits{
		listFn: func(_ context.Context, userID string, limit int) ([]audit.Request, error) {
			require.Equal(t, "user-1", userID)
			require.Equal(t, 2, limit)
			return []audit.Request{
				{ID: "req-2", URL: "https://example.com/b", UserID: userID},
				{ID: "req-1", URL: "https://example.com/a", UserID: userID},
			}, nil
		},
	}
	ts := newTestServer(t, fake)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/audits?limit=2", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Audits []audit.Request `json:"audits"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Audits, 2)
	require.Equal(t, "req-2", body.Audits[0].ID)
}

func TestListAuditsRequiresUser(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeAudits{})

	resp, err := http.Get(ts.URL + "/v1/audits")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/audits?limit=nope", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeAudits{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzFailsWhenProbeFails(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Server: config.ServerConfig{Port: 8080}}
	srv := NewServer(&fakeAudits{}, cfg, zap.NewNop(),
		WithReadiness(func(context.Context) error { return fmt.Errorf("pool not started") }))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeAudits{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeAudits{}, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "secret"
	})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
