package modules

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// SEO checks the head metadata and heading structure search engines
// care about. Thresholds follow common SERP truncation guidance.
type SEO struct{}

func (s *SEO) Kind() audit.ModuleKind { return audit.ModuleSEO }

func (s *SEO) RequiresLiveSession() bool { return false }

const (
	titleMinLen = 10
	titleMaxLen = 60
	descMinLen  = 50
	descMaxLen  = 160
)

func (s *SEO) Analyze(_ context.Context, in Input) audit.ModuleResult {
	meta := in.Artifact.Meta
	var issues []audit.Issue

	switch n := len(meta.Title); {
	case n == 0:
		issues = append(issues, issue(s.Kind(), "title", audit.SeverityCritical,
			"seo/title",
			"page has no <title>",
			"head",
			"add a descriptive title of 10 to 60 characters",
		))
	case n < titleMinLen:
		issues = append(issues, issue(s.Kind(), "title", audit.SeverityModerate,
			"seo/title",
			fmt.Sprintf("title is only %d characters", n),
			"head > title",
			"expand the title so searchers can tell what the page is about",
		))
	case n > titleMaxLen:
		issues = append(issues, issue(s.Kind(), "title", audit.SeverityMinor,
			"seo/title",
			fmt.Sprintf("title is %d characters and will be truncated in results", n),
			"head > title",
			"shorten the title to at most 60 characters",
		))
	}

	switch n := len(meta.Description); {
	case n == 0:
		issues = append(issues, issue(s.Kind(), "description", audit.SeveritySerious,
			"seo/description",
			"page has no meta description",
			"head",
			"add a meta description of 50 to 160 characters",
		))
	case n < descMinLen:
		issues = append(issues, issue(s.Kind(), "description", audit.SeverityMinor,
			"seo/description",
			fmt.Sprintf("meta description is only %d characters", n),
			`meta[name="description"]`,
			"expand the description; short snippets are often replaced by page text",
		))
	case n > descMaxLen:
		issues = append(issues, issue(s.Kind(), "description", audit.SeverityMinor,
			"seo/description",
			fmt.Sprintf("meta description is %d characters and will be truncated", n),
			`meta[name="description"]`,
			"shorten the description to at most 160 characters",
		))
	}

	if meta.Canonical == "" {
		issues = append(issues, issue(s.Kind(), "canonical", audit.SeverityMinor,
			"seo/canonical",
			"page declares no canonical URL",
			"head",
			"add <link rel=\"canonical\"> to consolidate duplicate URLs",
		))
	}

	if !meta.HasViewportMeta {
		issues = append(issues, issue(s.Kind(), "mobile", audit.SeveritySerious,
			"seo/viewport",
			"page has no viewport meta tag",
			"head",
			"add <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">",
		))
	}

	h1Count := 0
	for _, h := range meta.Headings {
		if h.Level == 1 {
			h1Count++
		}
	}
	if h1Count != 1 {
		issues = append(issues, issue(s.Kind(), "headings", audit.SeverityModerate,
			"seo/h1",
			fmt.Sprintf("page has %d h1 headings, expected exactly 1", h1Count),
			"body",
			"use exactly one h1 per page",
		))
	}

	return completed(s.Kind(), issues)
}
