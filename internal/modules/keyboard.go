package modules

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Keyboard looks for patterns that break keyboard-only navigation:
// positive tabindex values, click handlers on non-interactive
// elements, and accesskey collisions with browser shortcuts.
type Keyboard struct{}

func (k *Keyboard) Kind() audit.ModuleKind { return audit.ModuleKeyboard }

func (k *Keyboard) RequiresLiveSession() bool { return false }

func (k *Keyboard) Analyze(_ context.Context, in Input) audit.ModuleResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Artifact.HTML))
	if err != nil {
		return audit.ModuleResult{
			Kind:   k.Kind(),
			Status: audit.ModuleFailed,
			Error:  err.Error(),
		}
	}

	var issues []audit.Issue

	doc.Find("[tabindex]").Each(func(i int, sel *goquery.Selection) {
		raw, _ := sel.Attr("tabindex")
		ti, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || ti <= 0 {
			return
		}
		issues = append(issues, issue(k.Kind(), "tab-order", audit.SeverityModerate,
			"tabindex",
			fmt.Sprintf("element uses positive tabindex %d, overriding natural tab order", ti),
			selectorFor(sel, i),
			"use tabindex=\"0\" and let document order drive focus",
		))
	})

	doc.Find("div[onclick], span[onclick]").Each(func(i int, sel *goquery.Selection) {
		if sel.AttrOr("role", "") == "button" {
			if _, ok := sel.Attr("tabindex"); ok {
				return
			}
		}
		issues = append(issues, issue(k.Kind(), "handlers", audit.SeveritySerious,
			"WCAG 2.1.1",
			fmt.Sprintf("<%s> has a click handler but is not keyboard reachable", sel.Nodes[0].Data),
			selectorFor(sel, i),
			"use a <button>, or add role=\"button\" with tabindex=\"0\" and key handling",
		))
	})

	doc.Find("[accesskey]").Each(func(i int, sel *goquery.Selection) {
		key, _ := sel.Attr("accesskey")
		issues = append(issues, issue(k.Kind(), "shortcuts", audit.SeverityMinor,
			"accesskey",
			fmt.Sprintf("element declares accesskey %q, which can collide with browser or screen reader shortcuts", key),
			selectorFor(sel, i),
			"avoid accesskey; provide visible focusable controls instead",
		))
	})

	return completed(k.Kind(), issues)
}
