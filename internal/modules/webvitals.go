package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// WebVitals grades Core Web Vitals. First contentful paint and DOM
// timing come from the fetch artifact; largest contentful paint and
// layout shift need an observer on a live page, so the module asks to
// keep the browser session until analysis finishes and re-samples in
// a fresh tab of the same browser.
type WebVitals struct {
	// SampleTimeout bounds the live re-sample. Zero means 15s.
	SampleTimeout time.Duration
}

func (w *WebVitals) Kind() audit.ModuleKind { return audit.ModuleWebVitals }

func (w *WebVitals) RequiresLiveSession() bool { return true }

const (
	fcpModerate = 1800 * time.Millisecond
	fcpSerious  = 3 * time.Second
	dclModerate = 2 * time.Second
	dclSerious  = 4 * time.Second
	lcpModerate = 2500 * time.Millisecond
	lcpSerious  = 4 * time.Second
	clsModerate = 0.1
	clsSerious  = 0.25
)

// vitalsJS installs observers, waits a beat for late entries, and
// reports the largest contentful paint and cumulative layout shift.
const vitalsJS = `new Promise((resolve) => {
	let lcp = 0, cls = 0;
	new PerformanceObserver((list) => {
		for (const e of list.getEntries()) { lcp = e.startTime; }
	}).observe({type: 'largest-contentful-paint', buffered: true});
	new PerformanceObserver((list) => {
		for (const e of list.getEntries()) {
			if (!e.hadRecentInput) { cls += e.value; }
		}
	}).observe({type: 'layout-shift', buffered: true});
	setTimeout(() => resolve({lcp: lcp, cls: cls}), 1500);
})`

type vitalsSample struct {
	LCP float64 `json:"lcp"`
	CLS float64 `json:"cls"`
}

func (w *WebVitals) Analyze(ctx context.Context, in Input) audit.ModuleResult {
	timing := in.Artifact.Timing
	var issues []audit.Issue

	if timing.FirstContentfulPaint > 0 {
		switch {
		case timing.FirstContentfulPaint > fcpSerious:
			issues = append(issues, w.timingIssue("fcp", audit.SeveritySerious,
				"first contentful paint", timing.FirstContentfulPaint,
				"inline critical CSS and cut render-blocking requests"))
		case timing.FirstContentfulPaint > fcpModerate:
			issues = append(issues, w.timingIssue("fcp", audit.SeverityModerate,
				"first contentful paint", timing.FirstContentfulPaint,
				"reduce server response time and render-blocking resources"))
		}
	}

	if timing.DOMContentLoaded > 0 {
		switch {
		case timing.DOMContentLoaded > dclSerious:
			issues = append(issues, w.timingIssue("dcl", audit.SeveritySerious,
				"DOMContentLoaded", timing.DOMContentLoaded,
				"split or defer the scripts that run before DOM ready"))
		case timing.DOMContentLoaded > dclModerate:
			issues = append(issues, w.timingIssue("dcl", audit.SeverityModerate,
				"DOMContentLoaded", timing.DOMContentLoaded,
				"defer non-essential scripts past DOM ready"))
		}
	}

	if ctx.Err() != nil {
		// Deadline hit before the live sample; hand back what the
		// artifact timings already produced.
		return audit.ModuleResult{Kind: w.Kind(), Issues: issues}
	}

	if sample, ok := w.sampleLive(ctx, in); ok {
		lcp := time.Duration(sample.LCP * float64(time.Millisecond))
		switch {
		case lcp > lcpSerious:
			issues = append(issues, w.timingIssue("lcp", audit.SeveritySerious,
				"largest contentful paint", lcp,
				"prioritize loading of the hero image or heading block"))
		case lcp > lcpModerate:
			issues = append(issues, w.timingIssue("lcp", audit.SeverityModerate,
				"largest contentful paint", lcp,
				"preload the largest above-the-fold resource"))
		}
		switch {
		case sample.CLS > clsSerious:
			issues = append(issues, issue(w.Kind(), "cls", audit.SeveritySerious,
				"vitals/cls",
				fmt.Sprintf("cumulative layout shift %.3f exceeds 0.25", sample.CLS),
				"", "reserve space for images, ads, and late-loading embeds"))
		case sample.CLS > clsModerate:
			issues = append(issues, issue(w.Kind(), "cls", audit.SeverityModerate,
				"vitals/cls",
				fmt.Sprintf("cumulative layout shift %.3f exceeds 0.1", sample.CLS),
				"", "set explicit dimensions on images and embeds"))
		}
	}

	return completed(w.Kind(), issues)
}

func (w *WebVitals) timingIssue(category string, sev audit.Severity, what string, d time.Duration, fix string) audit.Issue {
	return issue(w.Kind(), category, sev,
		"vitals/"+category,
		fmt.Sprintf("%s was %s", what, d.Round(time.Millisecond)),
		"", fix)
}

// sampleLive opens a tab in the retained browser session and collects
// the observer-only vitals. Failures are not fatal; the module still
// grades what the artifact carries.
func (w *WebVitals) sampleLive(ctx context.Context, in Input) (vitalsSample, bool) {
	if in.Session == nil || in.Session.Crashed() {
		return vitalsSample{}, false
	}
	target := in.Artifact.FinalURL
	if target == "" {
		return vitalsSample{}, false
	}

	timeout := w.SampleTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	tabCtx, cancelTab := chromedp.NewContext(in.Session.Context())
	defer cancelTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	// The tab derives from the session, not the caller; tie its
	// lifetime to the module deadline as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var sample vitalsSample
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(vitalsJS, &sample, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return vitalsSample{}, false
	}
	return sample, true
}
