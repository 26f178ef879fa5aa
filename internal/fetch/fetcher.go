package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/browser"
)

// Default sub-resource patterns blocked during navigation. Heavy media
// never influences the analysis; scripts, stylesheets, and images do
// and are left alone.
var defaultBlockedPatterns = []string{
	"*.mp4", "*.webm", "*.avi", "*.mov", "*.mkv",
	"*.mp3", "*.wav", "*.flac", "*.ogg",
}

type viewportSize struct {
	width  int64
	height int64
}

var viewportSizes = map[audit.Viewport]viewportSize{
	audit.ViewportDesktop: {width: 1366, height: 900},
	audit.ViewportMobile:  {width: 390, height: 844},
}

// Config controls fetch behavior.
type Config struct {
	NavigationTimeout time.Duration
	UserAgent         string
	ProbeTimeout      time.Duration
	SkipProbe         bool
	BlockedPatterns   []string
	HostRPS           float64
	HostBurst         int
	BlobPrefix        string
}

// Fetcher produces artifacts from browser sessions.
type Fetcher struct {
	cfg    Config
	probe  *Probe
	pacer  *hostPacer
	blobs  audit.BlobStore
	hasher audit.Hasher
	clock  audit.Clock
	logger *zap.Logger
}

// New constructs a Fetcher. blobs may be nil to skip artifact
// persistence (tests, dev).
func New(cfg Config, blobs audit.BlobStore, hasher audit.Hasher, clock audit.Clock, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if len(cfg.BlockedPatterns) == 0 {
		cfg.BlockedPatterns = defaultBlockedPatterns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		probe:  NewProbe(ProbeConfig{UserAgent: cfg.UserAgent, Timeout: cfg.ProbeTimeout}),
		pacer:  newHostPacer(cfg.HostRPS, cfg.HostBurst),
		blobs:  blobs,
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

type navStats struct {
	DCL      float64 `json:"dcl"`
	Load     float64 `json:"load"`
	FCP      float64 `json:"fcp"`
	Transfer float64 `json:"transfer"`
}

const timingJS = `(() => {
	const nav = performance.getEntriesByType('navigation')[0];
	const paint = performance.getEntriesByType('paint').find(e => e.name === 'first-contentful-paint');
	return {
		dcl: nav ? nav.domContentLoadedEventEnd : 0,
		load: nav ? nav.loadEventEnd : 0,
		fcp: paint ? paint.startTime : 0,
		transfer: nav ? nav.transferSize : 0,
	};
})()`

// Fetch navigates the session to the request URL and captures the
// artifact. Navigation failures and timeouts are returned as typed
// errors; the retry policy lives in the orchestrator, not here.
func (f *Fetcher) Fetch(ctx context.Context, session *browser.Session, req audit.Request) (*audit.Artifact, error) {
	if err := f.pacer.Wait(ctx, req.URL); err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrNavigationFailed, err)
	}

	if !f.cfg.SkipProbe {
		if _, err := f.probe.Do(ctx, req.URL); err != nil {
			return nil, err
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(session.Context())
	defer tabCancel()
	tabCtx, navCancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer navCancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
		stats    navStats
	)
	start := f.clock.Now()
	desktop := viewportSizes[audit.ViewportDesktop]
	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetBlockedURLs(f.cfg.BlockedPatterns),
		chromedp.EmulateViewport(desktop.width, desktop.height),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(timingJS, &stats),
	)
	duration := f.clock.Now().Sub(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", audit.ErrNavigationTimeout, f.cfg.NavigationTimeout)
		}
		return nil, fmt.Errorf("%w: %v", audit.ErrNavigationFailed, err)
	}

	status, responseURL := meta.snapshot(req.URL, finalURL)
	if status >= 400 {
		return nil, fmt.Errorf("%w: status %d", audit.ErrInvalidResponse, status)
	}

	artifact := &audit.Artifact{
		RequestID:     req.ID,
		URL:           req.URL,
		FinalURL:      responseURL,
		StatusCode:    status,
		HTML:          []byte(html),
		LoadSucceeded: true,
		FetchedAt:     start,
	}
	requests, bytes := meta.totals()
	artifact.Timing = audit.NavTiming{
		Duration:             duration,
		DOMContentLoaded:     time.Duration(stats.DCL * float64(time.Millisecond)),
		Load:                 time.Duration(stats.Load * float64(time.Millisecond)),
		FirstContentfulPaint: time.Duration(stats.FCP * float64(time.Millisecond)),
		TransferBytes:        bytes,
		RequestCount:         requests,
	}

	pageMeta, err := ExtractMeta(artifact.HTML, responseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: extract metadata: %v", audit.ErrInvalidResponse, err)
	}
	artifact.Meta = pageMeta

	artifact.Screenshots = f.captureScreenshots(tabCtx, artifact)
	f.persist(ctx, artifact)
	return artifact, nil
}

// captureScreenshots grabs one image per viewport. Failures are
// non-fatal; they flag the artifact as a partial capture.
func (f *Fetcher) captureScreenshots(tabCtx context.Context, artifact *audit.Artifact) map[audit.Viewport][]byte {
	shots := make(map[audit.Viewport][]byte, len(viewportSizes))
	for _, vp := range []audit.Viewport{audit.ViewportDesktop, audit.ViewportMobile} {
		size := viewportSizes[vp]
		var buf []byte
		err := chromedp.Run(tabCtx,
			chromedp.EmulateViewport(size.width, size.height),
			chromedp.CaptureScreenshot(&buf),
		)
		if err != nil {
			artifact.PartialCapture = true
			f.logger.Warn("screenshot capture failed",
				zap.String("request_id", artifact.RequestID),
				zap.String("viewport", string(vp)),
				zap.Error(err),
			)
			continue
		}
		shots[vp] = buf
	}
	return shots
}

// persist writes the HTML snapshot and screenshots to the blob store.
// Persistence failures are logged, not fatal: the in-memory artifact is
// what the modules analyze.
func (f *Fetcher) persist(ctx context.Context, artifact *audit.Artifact) {
	if f.blobs == nil || f.hasher == nil {
		return
	}
	hash, err := f.hasher.Hash(artifact.HTML)
	if err != nil {
		f.logger.Warn("artifact hash failed", zap.String("request_id", artifact.RequestID), zap.Error(err))
		return
	}
	artifact.ContentHash = hash

	prefix := f.cfg.BlobPrefix
	if prefix == "" {
		prefix = "artifacts"
	}
	htmlPath := fmt.Sprintf("%s/%s/%s.html", prefix, artifact.RequestID, hash)
	uri, err := f.blobs.PutObject(ctx, htmlPath, "text/html; charset=utf-8", artifact.HTML)
	if err != nil {
		f.logger.Warn("artifact html persist failed", zap.String("request_id", artifact.RequestID), zap.Error(err))
	} else {
		artifact.HTMLBlobURI = uri
	}

	for vp, data := range artifact.Screenshots {
		shotPath := fmt.Sprintf("%s/%s/%s.png", prefix, artifact.RequestID, vp)
		if _, err := f.blobs.PutObject(ctx, shotPath, "image/png", data); err != nil {
			f.logger.Warn("screenshot persist failed",
				zap.String("request_id", artifact.RequestID),
				zap.String("viewport", string(vp)),
				zap.Error(err),
			)
		}
	}
}
