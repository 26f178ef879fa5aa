package audit

import "sort"

// Severity penalties subtracted from a module's starting score of 100.
const (
	penaltyCritical = 25
	penaltySerious  = 15
	penaltyModerate = 8
	penaltyMinor    = 3
)

// Penalty returns the score deduction for one issue of the severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityCritical:
		return penaltyCritical
	case SeveritySerious:
		return penaltySerious
	case SeverityModerate:
		return penaltyModerate
	case SeverityMinor:
		return penaltyMinor
	default:
		return 0
	}
}

// SubScore computes the shared module score: 100 minus the summed
// severity penalties, floored at 0. Every module uses this formula so
// aggregate scoring stays comparable across modules.
func SubScore(issues []Issue) int {
	score := 100
	for _, issue := range issues {
		score -= issue.Severity.Penalty()
	}
	if score < 0 {
		return 0
	}
	return score
}

// SortIssues orders issues by severity (critical first), then by module
// registry order, preserving each module's original issue order. The
// sort is deterministic: no map iteration, no wall clock.
func SortIssues(issues []Issue) {
	moduleRank := make(map[ModuleKind]int, len(AllModuleKinds()))
	for i, kind := range AllModuleKinds() {
		moduleRank[kind] = i
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity.Rank() != issues[j].Severity.Rank() {
			return issues[i].Severity.Rank() < issues[j].Severity.Rank()
		}
		return moduleRank[issues[i].Module] < moduleRank[issues[j].Module]
	})
}
