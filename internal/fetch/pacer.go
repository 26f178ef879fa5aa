package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// hostPacer rate-limits fetches per target host so a burst of audits
// against one site does not hammer it.
type hostPacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newHostPacer(rps float64, burst int) *hostPacer {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostPacer{
		limiters: make(map[string]*rate.Limiter),
		rps:      limit,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the URL's host.
func (p *hostPacer) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(p.rps, p.burst)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host pace wait: %w", err)
	}
	return nil
}
