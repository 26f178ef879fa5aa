package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

func TestProbe_SuccessReturnsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	p := NewProbe(ProbeConfig{Timeout: 2 * time.Second})
	status, err := p.Do(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
}

func TestProbe_ErrorStatusIsInvalidResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewProbe(ProbeConfig{Timeout: 2 * time.Second})
	status, err := p.Do(context.Background(), srv.URL)
	require.ErrorIs(t, err, audit.ErrInvalidResponse)
	require.Equal(t, http.StatusNotFound, status)
}

func TestProbe_UnreachableHostIsNavigationFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	p := NewProbe(ProbeConfig{Timeout: time.Second})
	_, err := p.Do(context.Background(), srv.URL)
	require.ErrorIs(t, err, audit.ErrNavigationFailed)
}

func TestProbe_FollowsRedirects(t *testing.T) {
	t.Parallel()

	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	p := NewProbe(ProbeConfig{Timeout: 2 * time.Second})
	status, err := p.Do(context.Background(), target.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
}
