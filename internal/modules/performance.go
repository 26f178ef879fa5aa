package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Performance grades the captured navigation timing and transfer
// volume. It works entirely on the fetch artifact and never needs a
// live browser session.
type Performance struct{}

func (p *Performance) Kind() audit.ModuleKind { return audit.ModulePerformance }

func (p *Performance) RequiresLiveSession() bool { return false }

const (
	loadModerate     = 3 * time.Second
	loadSerious      = 6 * time.Second
	transferModerate = 2 << 20 // 2 MiB
	transferSerious  = 5 << 20 // 5 MiB
	requestsModerate = 75
	requestsSerious  = 150
	htmlSizeMinor    = 100 << 10 // 100 KiB
)

func (p *Performance) Analyze(_ context.Context, in Input) audit.ModuleResult {
	timing := in.Artifact.Timing
	var issues []audit.Issue

	if timing.Load > 0 {
		switch {
		case timing.Load > loadSerious:
			issues = append(issues, issue(p.Kind(), "load", audit.SeveritySerious,
				"perf/load",
				fmt.Sprintf("page took %s to finish loading", timing.Load.Round(time.Millisecond)),
				"",
				"reduce blocking resources and total payload to bring load under 3s",
			))
		case timing.Load > loadModerate:
			issues = append(issues, issue(p.Kind(), "load", audit.SeverityModerate,
				"perf/load",
				fmt.Sprintf("page took %s to finish loading", timing.Load.Round(time.Millisecond)),
				"",
				"defer non-critical scripts and compress assets",
			))
		}
	}

	switch {
	case timing.TransferBytes > transferSerious:
		issues = append(issues, issue(p.Kind(), "weight", audit.SeveritySerious,
			"perf/weight",
			fmt.Sprintf("page transferred %.1f MiB", float64(timing.TransferBytes)/float64(1<<20)),
			"",
			"compress images and trim unused assets; aim for under 2 MiB",
		))
	case timing.TransferBytes > transferModerate:
		issues = append(issues, issue(p.Kind(), "weight", audit.SeverityModerate,
			"perf/weight",
			fmt.Sprintf("page transferred %.1f MiB", float64(timing.TransferBytes)/float64(1<<20)),
			"",
			"serve responsive images and enable compression",
		))
	}

	switch {
	case timing.RequestCount > requestsSerious:
		issues = append(issues, issue(p.Kind(), "requests", audit.SeveritySerious,
			"perf/requests",
			fmt.Sprintf("page made %d network requests", timing.RequestCount),
			"",
			"bundle assets and remove unused third-party scripts",
		))
	case timing.RequestCount > requestsModerate:
		issues = append(issues, issue(p.Kind(), "requests", audit.SeverityModerate,
			"perf/requests",
			fmt.Sprintf("page made %d network requests", timing.RequestCount),
			"",
			"consolidate small assets to cut request overhead",
		))
	}

	if len(in.Artifact.HTML) > htmlSizeMinor {
		issues = append(issues, issue(p.Kind(), "document", audit.SeverityMinor,
			"perf/html-size",
			fmt.Sprintf("rendered document is %d KiB", len(in.Artifact.HTML)>>10),
			"html",
			"trim inlined data and server-rendered repetition from the document",
		))
	}

	return completed(p.Kind(), issues)
}
