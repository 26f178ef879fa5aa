// Package aggregate folds per-module results into the final report.
// Aggregation is deterministic: the same inputs always produce the
// same report, byte for byte.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Weights maps module kinds to their share of the overall score.
// Missing kinds default to weight 1.
type Weights map[audit.ModuleKind]float64

// DefaultWeights biases the overall score toward accessibility, the
// product's headline number.
func DefaultWeights() Weights {
	return Weights{
		audit.ModuleAccessibility: 2,
		audit.ModuleSEO:           1.5,
		audit.ModulePerformance:   1.5,
		audit.ModuleContrast:      1,
		audit.ModuleARIA:          1,
		audit.ModuleKeyboard:      1,
		audit.ModuleWebVitals:     1.5,
	}
}

func (w Weights) of(kind audit.ModuleKind) float64 {
	if v, ok := w[kind]; ok && v > 0 {
		return v
	}
	return 1
}

// Build produces the report for one request from its module results.
// Only completed modules count toward the overall score; failed and
// timed out modules are listed, keep any issues they gathered, and are
// excluded from the weighted mean. Build returns ErrNoModulesCompleted
// when nothing finished.
func Build(req audit.Request, results []audit.ModuleResult, weights Weights, completedAt time.Time) (audit.Report, error) {
	if weights == nil {
		weights = DefaultWeights()
	}

	ordered := orderResults(req.Modules, results)

	var (
		weightedSum float64
		weightTotal float64
		scores      = make([]audit.ModuleScore, 0, len(ordered))
		issues      []audit.Issue
		failed      []audit.ModuleKind
	)
	for _, res := range ordered {
		scores = append(scores, audit.ModuleScore{
			Kind:   res.Kind,
			Status: res.Status,
			Score:  res.SubScore,
		})
		// A timed-out module still contributes the issues it collected
		// before the deadline, just not its score.
		issues = append(issues, res.Issues...)
		if res.Scorable() {
			w := weights.of(res.Kind)
			weightedSum += w * float64(res.SubScore)
			weightTotal += w
		} else {
			failed = append(failed, res.Kind)
		}
	}

	if weightTotal == 0 {
		return audit.Report{}, fmt.Errorf("request %s: %w", req.ID, audit.ErrNoModulesCompleted)
	}

	audit.SortIssues(issues)

	status := audit.StatusCompleted
	if len(failed) > 0 {
		status = audit.StatusPartialFailure
	}

	return audit.Report{
		RequestID:     req.ID,
		URL:           req.URL,
		NormalizedURL: req.NormalizedURL,
		UserID:        req.UserID,
		OverallScore:  int(math.Round(weightedSum / weightTotal)),
		ModuleScores:  scores,
		Issues:        issues,
		Status:        status,
		FailedModules: failed,
		CreatedAt:     req.CreatedAt,
		CompletedAt:   completedAt,
	}, nil
}

// orderResults arranges results in the request's module order so the
// report layout never depends on completion timing. Results for kinds
// the request never asked for are dropped.
func orderResults(requested []audit.ModuleKind, results []audit.ModuleResult) []audit.ModuleResult {
	byKind := make(map[audit.ModuleKind]audit.ModuleResult, len(results))
	for _, res := range results {
		byKind[res.Kind] = res
	}

	kinds := requested
	if len(kinds) == 0 {
		kinds = make([]audit.ModuleKind, 0, len(byKind))
		for kind := range byKind {
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	}

	ordered := make([]audit.ModuleResult, 0, len(kinds))
	for _, kind := range kinds {
		if res, ok := byKind[kind]; ok {
			ordered = append(ordered, res)
		}
	}
	return ordered
}
