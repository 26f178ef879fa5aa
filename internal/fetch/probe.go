package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ProbeConfig controls the pre-navigation HTTP probe.
type ProbeConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Probe issues a plain HTTP GET before the browser is engaged. DNS
// failures, refused connections, and error statuses are surfaced here,
// cheaply.
type Probe struct {
	cfg           ProbeConfig
	baseCollector *colly.Collector
}

// NewProbe builds a Probe.
func NewProbe(cfg ProbeConfig) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // the audit target is explicitly user-requested
	return &Probe{cfg: cfg, baseCollector: c}
}

// Do fetches the URL and returns the final status code. Transport
// failures map to ErrNavigationFailed, error statuses to
// ErrInvalidResponse.
func (p *Probe) Do(ctx context.Context, url string) (int, error) {
	collector := p.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(p.cfg.Timeout)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}

	var (
		status   int
		probeErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		probeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: probe canceled: %v", audit.ErrNavigationFailed, ctx.Err())
	case err := <-done:
		switch {
		case status >= 400:
			return status, fmt.Errorf("%w: probe status %d", audit.ErrInvalidResponse, status)
		case probeErr != nil:
			return status, fmt.Errorf("%w: probe: %v", audit.ErrNavigationFailed, probeErr)
		case err != nil:
			return status, fmt.Errorf("%w: probe visit: %v", audit.ErrNavigationFailed, err)
		}
		return status, nil
	}
}
