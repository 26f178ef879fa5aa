package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Accessibility checks the artifact metadata for WCAG-level structural
// problems: missing alt text, heading hierarchy, document language,
// form labeling, and vague link text.
type Accessibility struct{}

func (a *Accessibility) Kind() audit.ModuleKind { return audit.ModuleAccessibility }

func (a *Accessibility) RequiresLiveSession() bool { return false }

var vagueLinkText = map[string]struct{}{
	"click here": {},
	"here":       {},
	"read more":  {},
	"more":       {},
	"link":       {},
}

func (a *Accessibility) Analyze(_ context.Context, in Input) audit.ModuleResult {
	meta := in.Artifact.Meta
	var issues []audit.Issue

	for _, img := range meta.Images {
		if !img.HasAlt {
			issues = append(issues, issue(a.Kind(), "images", audit.SeverityCritical,
				"WCAG 1.1.1",
				fmt.Sprintf("image %q has no alt attribute", img.Src),
				img.Selector,
				"add an alt attribute describing the image, or alt=\"\" if decorative",
			))
		}
	}

	issues = append(issues, a.checkHeadings(meta.Headings)...)

	if meta.Lang == "" {
		issues = append(issues, issue(a.Kind(), "language", audit.SeveritySerious,
			"WCAG 3.1.1",
			"document has no lang attribute",
			"html",
			"set <html lang=\"..\"> so assistive technology picks the right voice",
		))
	}

	for _, form := range meta.Forms {
		if unlabeled := form.Inputs - form.LabeledInputs; unlabeled > 0 {
			issues = append(issues, issue(a.Kind(), "forms", audit.SeveritySerious,
				"WCAG 1.3.1",
				fmt.Sprintf("form has %d input(s) without an associated label", unlabeled),
				form.Selector,
				"associate every input with a <label for> or aria-label",
			))
		}
	}

	for _, link := range meta.Links {
		text := strings.ToLower(strings.TrimSpace(link.Text))
		if _, vague := vagueLinkText[text]; vague {
			issues = append(issues, issue(a.Kind(), "links", audit.SeverityMinor,
				"WCAG 2.4.4",
				fmt.Sprintf("link text %q does not describe its destination", link.Text),
				fmt.Sprintf("a[href=%q]", link.Href),
				"rewrite the link text to describe where it leads",
			))
		}
	}

	return completed(a.Kind(), issues)
}

func (a *Accessibility) checkHeadings(headings []audit.Heading) []audit.Issue {
	var issues []audit.Issue

	h1Count := 0
	for _, h := range headings {
		if h.Level == 1 {
			h1Count++
		}
	}
	if h1Count == 0 {
		issues = append(issues, issue(a.Kind(), "headings", audit.SeveritySerious,
			"WCAG 1.3.1",
			"page has no h1 heading",
			"body",
			"add a single h1 naming the page's main topic",
		))
	}

	prev := 0
	for _, h := range headings {
		if prev > 0 && h.Level > prev+1 {
			issues = append(issues, issue(a.Kind(), "headings", audit.SeverityModerate,
				"WCAG 1.3.1",
				fmt.Sprintf("heading level jumps from h%d to h%d", prev, h.Level),
				fmt.Sprintf("h%d", h.Level),
				"do not skip heading levels; use them to reflect document structure",
			))
		}
		prev = h.Level
	}
	return issues
}
