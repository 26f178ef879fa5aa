// Package quota enforces per-user scan limits and short-circuits
// repeat audits through a cached-report lookup.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Tier limits applied when a user has no stored quota record.
const (
	FreeScanLimit = 5
	ProScanLimit  = 100

	// DefaultReportValidity is how long a finished report satisfies a
	// repeat request for the same normalized URL.
	DefaultReportValidity = 24 * time.Hour

	// saveRetries bounds the optimistic-concurrency loop in Commit.
	saveRetries = 5
)

// Decision is the outcome of a quota check.
type Decision struct {
	// Allowed is false when the user is over limit.
	Allowed bool
	// Cached is non-nil when a recent report makes a new scan redundant.
	Cached *audit.Report
	// Remaining scans in the current window; -1 means unlimited.
	Remaining int
	// ResetAt is when the window rolls over; zero for unlimited tiers.
	ResetAt time.Time
}

// Config tunes the quota service.
type Config struct {
	ReportValidity time.Duration
	// ResetPeriod is the rolling quota window. Zero means 30 days.
	ResetPeriod time.Duration
	// CacheSize bounds the in-process report cache. Zero means 512.
	CacheSize int
}

func (c *Config) withDefaults() Config {
	out := Config{ReportValidity: DefaultReportValidity, ResetPeriod: 30 * 24 * time.Hour, CacheSize: 512}
	if c == nil {
		return out
	}
	if c.ReportValidity > 0 {
		out.ReportValidity = c.ReportValidity
	}
	if c.ResetPeriod > 0 {
		out.ResetPeriod = c.ResetPeriod
	}
	if c.CacheSize > 0 {
		out.CacheSize = c.CacheSize
	}
	return out
}

// Service answers "may this user scan this URL right now" and records
// usage after completed scans. Usage is reserved logically at check
// time but only committed once the scan finishes, so failed scans do
// not burn quota.
type Service struct {
	cfg    Config
	store  audit.QuotaStore
	audits audit.AuditStore
	clock  audit.Clock
	log    *zap.Logger

	// cache fronts LoadRecentReport for hot URLs. Keyed by
	// userID + "\x00" + normalizedURL.
	cache *lru.Cache[string, audit.Report]
}

// NewService builds the quota service. The LRU constructor only fails
// on a non-positive size, which withDefaults rules out.
func NewService(cfg *Config, store audit.QuotaStore, audits audit.AuditStore, clock audit.Clock, log *zap.Logger) (*Service, error) {
	resolved := cfg.withDefaults()
	cache, err := lru.New[string, audit.Report](resolved.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("quota: build report cache: %w", err)
	}
	return &Service{
		cfg:    resolved,
		store:  store,
		audits: audits,
		clock:  clock,
		log:    log,
		cache:  cache,
	}, nil
}

// CheckAndReserve decides whether the request may proceed. Anonymous
// requests are always allowed and never served from cache. The check
// does not increment usage; Commit does, after the scan completes.
func (s *Service) CheckAndReserve(ctx context.Context, req audit.Request) (Decision, error) {
	if req.Anonymous() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	if report, ok := s.lookupCached(ctx, req); ok {
		return Decision{Allowed: true, Cached: &report, Remaining: -1}, nil
	}

	record, found, err := s.store.LoadQuota(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", audit.ErrQuotaLookup, err)
	}
	now := s.clock.Now()
	if !found {
		record = s.freshRecord(req.UserID, now)
	}
	record = s.rollWindow(record, now)

	if record.Tier.Unlimited() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	if record.ScansUsed >= record.ScansLimit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: record.ResetAt}, audit.ErrLimitReached
	}
	return Decision{
		Allowed:   true,
		Remaining: record.ScansLimit - record.ScansUsed - 1,
		ResetAt:   record.ResetAt,
	}, nil
}

// Commit increments usage for a finished scan and caches its report.
// The save runs a compare-and-swap loop: on a version conflict the
// record is reloaded and the increment reapplied.
func (s *Service) Commit(ctx context.Context, req audit.Request, report audit.Report) error {
	// Only a fully completed report is worth caching; caching a partial
	// failure would serve it back and block the rescan that fixes it.
	if report.Status == audit.StatusCompleted {
		s.cache.Add(cacheKey(req.UserID, req.NormalizedURL), report)
	}
	if req.Anonymous() {
		return nil
	}

	for attempt := 0; attempt < saveRetries; attempt++ {
		record, found, err := s.store.LoadQuota(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("%w: %v", audit.ErrQuotaLookup, err)
		}
		now := s.clock.Now()
		if !found {
			record = s.freshRecord(req.UserID, now)
		}
		record = s.rollWindow(record, now)
		if record.Tier.Unlimited() {
			return nil
		}

		record.ScansUsed++
		err = s.store.SaveQuota(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, audit.ErrVersionConflict) {
			return fmt.Errorf("quota: save usage for %s: %w", req.UserID, err)
		}
		s.log.Debug("quota save conflict, retrying",
			zap.String("user_id", req.UserID),
			zap.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("quota: save usage for %s: retries exhausted: %w", req.UserID, audit.ErrVersionConflict)
}

// Invalidate drops any cached report for the user and URL, forcing the
// next request through a fresh scan.
func (s *Service) Invalidate(userID, normalizedURL string) {
	s.cache.Remove(cacheKey(userID, normalizedURL))
}

func (s *Service) lookupCached(ctx context.Context, req audit.Request) (audit.Report, bool) {
	key := cacheKey(req.UserID, req.NormalizedURL)
	now := s.clock.Now()

	if report, ok := s.cache.Get(key); ok {
		if now.Sub(report.CompletedAt) <= s.cfg.ReportValidity {
			return report, true
		}
		s.cache.Remove(key)
	}

	report, found, err := s.audits.LoadRecentReport(ctx, req.UserID, req.NormalizedURL, s.cfg.ReportValidity)
	if err != nil {
		// Cache misses must not block the scan.
		s.log.Warn("recent report lookup failed",
			zap.String("user_id", req.UserID),
			zap.String("url", req.NormalizedURL),
			zap.Error(err),
		)
		return audit.Report{}, false
	}
	if !found {
		return audit.Report{}, false
	}
	s.cache.Add(key, report)
	return report, true
}

func (s *Service) freshRecord(userID string, now time.Time) audit.QuotaRecord {
	return audit.QuotaRecord{
		UserID:     userID,
		Tier:       audit.TierFree,
		ScansLimit: FreeScanLimit,
		ResetAt:    now.Add(s.cfg.ResetPeriod),
	}
}

// rollWindow zeroes usage when the reset time has passed.
func (s *Service) rollWindow(record audit.QuotaRecord, now time.Time) audit.QuotaRecord {
	if !record.ResetAt.IsZero() && !now.Before(record.ResetAt) {
		record.ScansUsed = 0
		record.ResetAt = now.Add(s.cfg.ResetPeriod)
	}
	return record
}

func cacheKey(userID, normalizedURL string) string {
	return userID + "\x00" + normalizedURL
}
