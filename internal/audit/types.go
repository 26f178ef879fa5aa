package audit

import (
	"time"
)

// ModuleKind identifies one analysis module in the closed registry.
type ModuleKind string

// Known analysis modules. The order of AllModuleKinds is the canonical
// module order used when sorting report issues.
const (
	ModuleAccessibility ModuleKind = "accessibility"
	ModuleSEO           ModuleKind = "seo"
	ModulePerformance   ModuleKind = "performance"
	ModuleContrast      ModuleKind = "color-contrast"
	ModuleARIA          ModuleKind = "aria"
	ModuleKeyboard      ModuleKind = "keyboard"
	ModuleWebVitals     ModuleKind = "core-web-vitals"
)

// AllModuleKinds returns the registry order of every known module.
func AllModuleKinds() []ModuleKind {
	return []ModuleKind{
		ModuleAccessibility,
		ModuleSEO,
		ModulePerformance,
		ModuleContrast,
		ModuleARIA,
		ModuleKeyboard,
		ModuleWebVitals,
	}
}

// ValidModuleKind reports whether kind names a registered module.
func ValidModuleKind(kind ModuleKind) bool {
	for _, k := range AllModuleKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Severity ranks how badly an issue affects the audited page.
type Severity string

// Issue severities, most severe first.
const (
	SeverityCritical Severity = "critical"
	SeveritySerious  Severity = "serious"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// Rank returns a sort key; lower means more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeveritySerious:
		return 1
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 3
	default:
		return 4
	}
}

// Issue is a single finding produced by an analysis module. Issues are
// immutable once emitted and owned by their ModuleResult.
type Issue struct {
	Module     ModuleKind `json:"module"`
	Category   string     `json:"category"`
	Severity   Severity   `json:"severity"`
	RuleRef    string     `json:"rule_ref,omitempty"`
	Message    string     `json:"message"`
	Selector   string     `json:"selector,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
}

// ModuleStatus is the terminal state of one module run.
type ModuleStatus string

// Module result states. TimedOut counts as Failed for scoring.
const (
	ModuleCompleted ModuleStatus = "completed"
	ModuleFailed    ModuleStatus = "failed"
	ModuleTimedOut  ModuleStatus = "timed_out"
)

// ModuleResult is produced once per (request, module) pair.
type ModuleResult struct {
	Kind     ModuleKind   `json:"kind"`
	Status   ModuleStatus `json:"status"`
	Issues   []Issue      `json:"issues"`
	SubScore int          `json:"sub_score"`
	Error    string       `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// Scorable reports whether the result contributes a sub-score.
func (r ModuleResult) Scorable() bool {
	return r.Status == ModuleCompleted
}

// RequestStatus is the lifecycle state of an audit request.
type RequestStatus string

// Request lifecycle states persisted in the audit store.
const (
	StatusQueued         RequestStatus = "queued"
	StatusFetching       RequestStatus = "fetching"
	StatusAnalyzing      RequestStatus = "analyzing"
	StatusAggregating    RequestStatus = "aggregating"
	StatusCompleted      RequestStatus = "completed"
	StatusPartialFailure RequestStatus = "partial_failure"
	StatusFailed         RequestStatus = "failed"
	StatusCanceled       RequestStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartialFailure, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Request is one user-initiated audit of a URL. Immutable once enqueued.
type Request struct {
	ID            string       `json:"id"`
	URL           string       `json:"url"`
	NormalizedURL string       `json:"normalized_url"`
	Modules       []ModuleKind `json:"modules"`
	UserID        string       `json:"user_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Anonymous reports whether the request has no authenticated user.
func (r Request) Anonymous() bool {
	return r.UserID == ""
}

// Job wraps a request on the work queue.
type Job struct {
	RequestID string  `json:"request_id"`
	Request   Request `json:"request"`
	Attempt   int     `json:"attempt"`
	Submitted int64   `json:"submitted"`
}

// Viewport names a screenshot breakpoint.
type Viewport string

// Captured viewports.
const (
	ViewportDesktop Viewport = "desktop"
	ViewportMobile  Viewport = "mobile"
)

// Heading is one h1-h6 element in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ImageRef describes an <img> element.
type ImageRef struct {
	Src      string `json:"src"`
	Alt      string `json:"alt"`
	HasAlt   bool   `json:"has_alt"`
	Selector string `json:"selector,omitempty"`
}

// LinkRef describes an <a> element.
type LinkRef struct {
	Href     string `json:"href"`
	Text     string `json:"text"`
	Internal bool   `json:"internal"`
	Rel      string `json:"rel,omitempty"`
}

// FormRef summarizes a <form> element's labeling.
type FormRef struct {
	Selector      string `json:"selector"`
	Inputs        int    `json:"inputs"`
	LabeledInputs int    `json:"labeled_inputs"`
}

// PageMeta is the structured metadata extracted from a fetched page.
type PageMeta struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Lang            string    `json:"lang"`
	Canonical       string    `json:"canonical"`
	HasViewportMeta bool      `json:"has_viewport_meta"`
	Headings        []Heading `json:"headings"`
	Images          []ImageRef `json:"images"`
	Links           []LinkRef  `json:"links"`
	Forms           []FormRef  `json:"forms"`
}

// NavTiming holds navigation timing sampled during the page load.
type NavTiming struct {
	Duration             time.Duration `json:"duration_ms"`
	DOMContentLoaded     time.Duration `json:"dom_content_loaded_ms"`
	Load                 time.Duration `json:"load_ms"`
	FirstContentfulPaint time.Duration `json:"first_contentful_paint_ms"`
	TransferBytes        int64         `json:"transfer_bytes"`
	RequestCount         int           `json:"request_count"`
}

// Artifact is the immutable snapshot produced by the fetch stage and
// consumed read-only by every analysis module.
type Artifact struct {
	RequestID      string              `json:"request_id"`
	URL            string              `json:"url"`
	FinalURL       string              `json:"final_url"`
	StatusCode     int                 `json:"status_code"`
	HTML           []byte              `json:"-"`
	Meta           PageMeta            `json:"meta"`
	Screenshots    map[Viewport][]byte `json:"-"`
	Timing         NavTiming           `json:"timing"`
	LoadSucceeded  bool                `json:"load_succeeded"`
	PartialCapture bool                `json:"partial_capture"`
	FetchedAt      time.Time           `json:"fetched_at"`
	ContentHash    string              `json:"content_hash,omitempty"`
	HTMLBlobURI    string              `json:"html_blob_uri,omitempty"`
}

// ModuleScore is one module's contribution to a report.
type ModuleScore struct {
	Kind   ModuleKind   `json:"kind"`
	Status ModuleStatus `json:"status"`
	Score  int          `json:"score"`
}

// Report is the final aggregated result for a request. Immutable after
// completion except for the Expired flag set by the cache layer.
type Report struct {
	RequestID     string        `json:"request_id"`
	URL           string        `json:"url"`
	NormalizedURL string        `json:"normalized_url"`
	UserID        string        `json:"user_id,omitempty"`
	OverallScore  int           `json:"overall_score"`
	ModuleScores  []ModuleScore `json:"module_scores"`
	Issues        []Issue       `json:"issues"`
	Status        RequestStatus `json:"status"`
	FailedModules []ModuleKind  `json:"failed_modules,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Expired       bool          `json:"expired,omitempty"`
}

// IssueCounts tallies report issues per severity.
func (r Report) IssueCounts() map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return counts
}

// Tier is a user's quota class.
type Tier string

// Known quota tiers.
const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// Unlimited reports whether the tier bypasses quota accounting.
func (t Tier) Unlimited() bool {
	return t == TierUnlimited
}

// QuotaRecord tracks scan usage for one user. Version supports
// optimistic concurrency in the quota store.
type QuotaRecord struct {
	UserID     string    `json:"user_id"`
	Tier       Tier      `json:"tier"`
	ScansUsed  int       `json:"scans_used"`
	ScansLimit int       `json:"scans_limit"`
	ResetAt    time.Time `json:"reset_at"`
	Version    int64     `json:"-"`
}
