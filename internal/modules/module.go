// Package modules implements the analysis module registry. Every
// module consumes the immutable fetch artifact and emits typed issues
// plus a sub-score; modules are independent and safely parallel.
package modules

import (
	"context"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/browser"
)

// Input carries what a module may read. Session is non-nil only while
// the orchestrator holds the browser session for a live-capable module.
type Input struct {
	Artifact *audit.Artifact
	Session  *browser.Session
}

// Analyzer is the contract every analysis module satisfies. Analyze
// must not mutate the artifact and must not reach the network beyond
// what the artifact already captured; live-session modules may use
// Input.Session when present.
type Analyzer interface {
	Kind() audit.ModuleKind
	RequiresLiveSession() bool
	Analyze(ctx context.Context, in Input) audit.ModuleResult
}

// Registry is the closed set of known analyzers, keyed by kind.
type Registry struct {
	byKind map[audit.ModuleKind]Analyzer
}

// NewRegistry builds a registry from the given analyzers.
func NewRegistry(analyzers ...Analyzer) *Registry {
	r := &Registry{byKind: make(map[audit.ModuleKind]Analyzer, len(analyzers))}
	for _, a := range analyzers {
		r.byKind[a.Kind()] = a
	}
	return r
}

// DefaultRegistry returns a registry holding every shipped module.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Accessibility{},
		&SEO{},
		&Performance{},
		&Contrast{},
		&ARIA{},
		&Keyboard{},
		&WebVitals{},
	)
}

// Get looks up an analyzer by kind.
func (r *Registry) Get(kind audit.ModuleKind) (Analyzer, bool) {
	a, ok := r.byKind[kind]
	return a, ok
}

// Kinds returns the registered kinds in canonical module order.
func (r *Registry) Kinds() []audit.ModuleKind {
	var kinds []audit.ModuleKind
	for _, kind := range audit.AllModuleKinds() {
		if _, ok := r.byKind[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// AnyRequiresLive reports whether any of the requested kinds needs the
// browser session held through the analyzing phase.
func (r *Registry) AnyRequiresLive(kinds []audit.ModuleKind) bool {
	for _, kind := range kinds {
		if a, ok := r.byKind[kind]; ok && a.RequiresLiveSession() {
			return true
		}
	}
	return false
}

// completed builds a successful result with the shared score formula.
func completed(kind audit.ModuleKind, issues []audit.Issue) audit.ModuleResult {
	return audit.ModuleResult{
		Kind:     kind,
		Status:   audit.ModuleCompleted,
		Issues:   issues,
		SubScore: audit.SubScore(issues),
	}
}

// issue tags a finding with its module before it leaves the package.
func issue(kind audit.ModuleKind, category string, severity audit.Severity, ruleRef, message, selector, suggestion string) audit.Issue {
	return audit.Issue{
		Module:     kind,
		Category:   category,
		Severity:   severity,
		RuleRef:    ruleRef,
		Message:    message,
		Selector:   selector,
		Suggestion: suggestion,
	}
}
