package modules

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ARIA validates role and aria-* usage: unknown roles, hidden-but-
// focusable elements, and empty labels.
type ARIA struct{}

func (a *ARIA) Kind() audit.ModuleKind { return audit.ModuleARIA }

func (a *ARIA) RequiresLiveSession() bool { return false }

// The WAI-ARIA 1.2 role vocabulary, widget and structure roles merged.
var knownRoles = map[string]struct{}{
	"alert": {}, "alertdialog": {}, "application": {}, "article": {},
	"banner": {}, "button": {}, "cell": {}, "checkbox": {},
	"columnheader": {}, "combobox": {}, "complementary": {},
	"contentinfo": {}, "definition": {}, "dialog": {}, "directory": {},
	"document": {}, "feed": {}, "figure": {}, "form": {}, "grid": {},
	"gridcell": {}, "group": {}, "heading": {}, "img": {}, "link": {},
	"list": {}, "listbox": {}, "listitem": {}, "log": {}, "main": {},
	"marquee": {}, "math": {}, "menu": {}, "menubar": {}, "menuitem": {},
	"menuitemcheckbox": {}, "menuitemradio": {}, "navigation": {},
	"none": {}, "note": {}, "option": {}, "presentation": {},
	"progressbar": {}, "radio": {}, "radiogroup": {}, "region": {},
	"row": {}, "rowgroup": {}, "rowheader": {}, "scrollbar": {},
	"search": {}, "searchbox": {}, "separator": {}, "slider": {},
	"spinbutton": {}, "status": {}, "switch": {}, "tab": {}, "table": {},
	"tablist": {}, "tabpanel": {}, "term": {}, "textbox": {},
	"timer": {}, "toolbar": {}, "tooltip": {}, "tree": {},
	"treegrid": {}, "treeitem": {},
}

var focusableTags = map[string]struct{}{
	"a": {}, "button": {}, "input": {}, "select": {}, "textarea": {},
}

func (a *ARIA) Analyze(_ context.Context, in Input) audit.ModuleResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Artifact.HTML))
	if err != nil {
		return audit.ModuleResult{
			Kind:   a.Kind(),
			Status: audit.ModuleFailed,
			Error:  err.Error(),
		}
	}

	var issues []audit.Issue

	doc.Find("[role]").Each(func(i int, sel *goquery.Selection) {
		role, _ := sel.Attr("role")
		role = strings.ToLower(strings.TrimSpace(role))
		if _, ok := knownRoles[role]; !ok {
			issues = append(issues, issue(a.Kind(), "roles", audit.SeveritySerious,
				"WAI-ARIA roles",
				fmt.Sprintf("element uses unknown role %q", role),
				selectorFor(sel, i),
				"use a role from the WAI-ARIA vocabulary or remove the attribute",
			))
		}
	})

	doc.Find(`[aria-hidden="true"]`).Each(func(i int, sel *goquery.Selection) {
		if !isFocusable(sel) {
			return
		}
		issues = append(issues, issue(a.Kind(), "hidden", audit.SeveritySerious,
			"aria-hidden",
			"focusable element is hidden from assistive technology with aria-hidden",
			selectorFor(sel, i),
			"remove aria-hidden or take the element out of the tab order",
		))
	})

	doc.Find("[aria-label]").Each(func(i int, sel *goquery.Selection) {
		label, _ := sel.Attr("aria-label")
		if strings.TrimSpace(label) == "" {
			issues = append(issues, issue(a.Kind(), "labels", audit.SeverityModerate,
				"aria-label",
				"element has an empty aria-label",
				selectorFor(sel, i),
				"give the label meaningful text or remove the attribute",
			))
		}
	})

	return completed(a.Kind(), issues)
}

func isFocusable(sel *goquery.Selection) bool {
	if len(sel.Nodes) == 0 {
		return false
	}
	// An explicit tabindex wins over the tag's default focusability.
	if ti, ok := sel.Attr("tabindex"); ok {
		return strings.TrimSpace(ti) != "-1"
	}
	_, ok := focusableTags[sel.Nodes[0].Data]
	return ok
}
