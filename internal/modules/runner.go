package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// drainGrace is how long Run waits after the deadline for an analyzer
// honoring ctx to hand back the issues it collected before timing out.
const drainGrace = 100 * time.Millisecond

// Run executes one analyzer under its per-module timeout, recovering
// panics into a Failed result so a misbehaving module can never take
// the pipeline down with it.
func Run(ctx context.Context, analyzer Analyzer, in Input, timeout time.Duration) audit.ModuleResult {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan audit.ModuleResult, 1)
	start := time.Now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- audit.ModuleResult{
					Kind:   analyzer.Kind(),
					Status: audit.ModuleFailed,
					Error:  fmt.Sprintf("%v: panic: %v", audit.ErrModuleFailure, rec),
				}
			}
		}()
		done <- analyzer.Analyze(runCtx, in)
	}()

	select {
	case result := <-done:
		result.Duration = time.Since(start)
		return result
	case <-runCtx.Done():
	}

	// The deadline has passed. An analyzer that observes ctx returns a
	// partial result carrying the issues it collected so far; wait a
	// short grace for that before giving up on the payload entirely.
	timedOut := audit.ModuleResult{
		Kind:   analyzer.Kind(),
		Status: audit.ModuleTimedOut,
		Error:  audit.ErrModuleTimeout.Error(),
	}
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()
	select {
	case result := <-done:
		timedOut.Issues = result.Issues
		timedOut.SubScore = audit.SubScore(result.Issues)
	case <-grace.C:
	}
	timedOut.Duration = time.Since(start)
	return timedOut
}
