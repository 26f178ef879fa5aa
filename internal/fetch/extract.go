package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ExtractMeta parses the captured DOM into the structured metadata the
// analysis modules read. baseURL classifies links as internal/external.
func ExtractMeta(html []byte, baseURL string) (audit.PageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return audit.PageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	meta := audit.PageMeta{
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		Lang:      doc.Find("html").AttrOr("lang", ""),
		Canonical: doc.Find(`link[rel="canonical"]`).AttrOr("href", ""),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		meta.Description = strings.TrimSpace(desc)
	}
	meta.HasViewportMeta = doc.Find(`meta[name="viewport"]`).Length() > 0

	meta.Headings = extractHeadings(doc)
	meta.Images = extractImages(doc)
	meta.Links = extractLinks(doc, baseURL)
	meta.Forms = extractForms(doc)
	return meta, nil
}

func extractHeadings(doc *goquery.Document) []audit.Heading {
	var headings []audit.Heading
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		if len(tag) != 2 || tag[0] != 'h' {
			return
		}
		headings = append(headings, audit.Heading{
			Level: int(tag[1] - '0'),
			Text:  strings.TrimSpace(sel.Text()),
		})
	})
	return headings
}

func extractImages(doc *goquery.Document) []audit.ImageRef {
	var images []audit.ImageRef
	doc.Find("img").Each(func(i int, sel *goquery.Selection) {
		alt, hasAlt := sel.Attr("alt")
		images = append(images, audit.ImageRef{
			Src:      sel.AttrOr("src", ""),
			Alt:      alt,
			HasAlt:   hasAlt,
			Selector: fmt.Sprintf("img:nth-of-type(%d)", i+1),
		})
	})
	return images
}

func extractLinks(doc *goquery.Document, baseURL string) []audit.LinkRef {
	baseHost := ""
	if u, err := url.Parse(baseURL); err == nil {
		baseHost = strings.ToLower(u.Hostname())
	}
	var links []audit.LinkRef
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		links = append(links, audit.LinkRef{
			Href:     href,
			Text:     strings.TrimSpace(sel.Text()),
			Internal: isInternal(href, baseHost),
			Rel:      sel.AttrOr("rel", ""),
		})
	})
	return links
}

func isInternal(href, baseHost string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Hostname() == "" {
		return true
	}
	return strings.ToLower(u.Hostname()) == baseHost
}

func extractForms(doc *goquery.Document) []audit.FormRef {
	var forms []audit.FormRef
	doc.Find("form").Each(func(i int, sel *goquery.Selection) {
		inputs := 0
		labeled := 0
		sel.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
			if field.AttrOr("type", "") == "hidden" {
				return
			}
			inputs++
			if fieldLabeled(doc, field) {
				labeled++
			}
		})
		forms = append(forms, audit.FormRef{
			Selector:      fmt.Sprintf("form:nth-of-type(%d)", i+1),
			Inputs:        inputs,
			LabeledInputs: labeled,
		})
	})
	return forms
}

func fieldLabeled(doc *goquery.Document, field *goquery.Selection) bool {
	if field.AttrOr("aria-label", "") != "" || field.AttrOr("aria-labelledby", "") != "" {
		return true
	}
	if id, ok := field.Attr("id"); ok && id != "" {
		if doc.Find(fmt.Sprintf(`label[for="%s"]`, id)).Length() > 0 {
			return true
		}
	}
	return field.ParentsFiltered("label").Length() > 0
}
