package modules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

type scriptedAnalyzer struct {
	kind       audit.ModuleKind
	delay      time.Duration
	ignoresCtx bool
	panics     bool
	partial    []audit.Issue
	result     audit.ModuleResult
}

func (s *scriptedAnalyzer) Kind() audit.ModuleKind      { return s.kind }
func (s *scriptedAnalyzer) RequiresLiveSession() bool   { return false }

func (s *scriptedAnalyzer) Analyze(ctx context.Context, _ Input) audit.ModuleResult {
	if s.panics {
		panic("module blew up")
	}
	if s.delay > 0 {
		if s.ignoresCtx {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				if s.partial != nil {
					return audit.ModuleResult{Kind: s.kind, Issues: s.partial}
				}
			}
		}
	}
	return s.result
}

func TestRunReturnsModuleResult(t *testing.T) {
	t.Parallel()

	a := &scriptedAnalyzer{
		kind:   audit.ModuleSEO,
		result: completed(audit.ModuleSEO, nil),
	}
	res := Run(context.Background(), a, Input{Artifact: &audit.Artifact{}}, time.Second)
	require.Equal(t, audit.ModuleCompleted, res.Status)
	require.Equal(t, 100, res.SubScore)
	require.Greater(t, res.Duration, time.Duration(0))
}

func TestRunTimesOutSlowModule(t *testing.T) {
	t.Parallel()

	a := &scriptedAnalyzer{kind: audit.ModulePerformance, delay: 5 * time.Second}
	res := Run(context.Background(), a, Input{Artifact: &audit.Artifact{}}, 50*time.Millisecond)
	require.Equal(t, audit.ModuleTimedOut, res.Status)
	require.Equal(t, audit.ModulePerformance, res.Kind)
	require.Empty(t, res.Issues, "this module had collected nothing when the deadline hit")
}

func TestRunTimeoutKeepsCollectedIssues(t *testing.T) {
	t.Parallel()

	found := issue(audit.ModuleContrast, "contrast", audit.SeverityCritical,
		"WCAG 1.4.3", "text contrast 1.2:1 below minimum", "p.hero", "darken the foreground color")
	a := &scriptedAnalyzer{
		kind:    audit.ModuleContrast,
		delay:   5 * time.Second,
		partial: []audit.Issue{found},
	}
	res := Run(context.Background(), a, Input{Artifact: &audit.Artifact{}}, 50*time.Millisecond)
	require.Equal(t, audit.ModuleTimedOut, res.Status)
	require.Equal(t, audit.ErrModuleTimeout.Error(), res.Error)
	require.Equal(t, []audit.Issue{found}, res.Issues, "issues found before the deadline survive the timeout")
	require.Equal(t, audit.SubScore(res.Issues), res.SubScore)
}

func TestRunTimeoutUnresponsiveModuleDropsNothing(t *testing.T) {
	t.Parallel()

	// An analyzer that never observes ctx gets no grace payload; the
	// result is still TimedOut and must not block the runner.
	a := &scriptedAnalyzer{kind: audit.ModuleKeyboard, delay: 2 * time.Second, ignoresCtx: true}
	start := time.Now()
	res := Run(context.Background(), a, Input{Artifact: &audit.Artifact{}}, 50*time.Millisecond)
	require.Equal(t, audit.ModuleTimedOut, res.Status)
	require.Less(t, time.Since(start), time.Second)
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()

	a := &scriptedAnalyzer{kind: audit.ModuleARIA, panics: true}
	res := Run(context.Background(), a, Input{Artifact: &audit.Artifact{}}, time.Second)
	require.Equal(t, audit.ModuleFailed, res.Status)
	require.Contains(t, res.Error, "panic")
}

func TestRunPanicDoesNotPoisonSiblings(t *testing.T) {
	t.Parallel()

	bad := &scriptedAnalyzer{kind: audit.ModuleARIA, panics: true}
	good := &scriptedAnalyzer{kind: audit.ModuleSEO, result: completed(audit.ModuleSEO, nil)}

	in := Input{Artifact: &audit.Artifact{}}
	require.Equal(t, audit.ModuleFailed, Run(context.Background(), bad, in, time.Second).Status)
	require.Equal(t, audit.ModuleCompleted, Run(context.Background(), good, in, time.Second).Status)
}
