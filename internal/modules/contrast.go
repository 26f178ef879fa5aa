package modules

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Contrast evaluates inline-styled text for WCAG AA contrast. Only
// declarations visible in the document itself are considered; computed
// styles from external sheets are out of reach without a live page.
type Contrast struct{}

func (c *Contrast) Kind() audit.ModuleKind { return audit.ModuleContrast }

func (c *Contrast) RequiresLiveSession() bool { return false }

const minContrastRatio = 4.5

func (c *Contrast) Analyze(_ context.Context, in Input) audit.ModuleResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Artifact.HTML))
	if err != nil {
		return audit.ModuleResult{
			Kind:   c.Kind(),
			Status: audit.ModuleFailed,
			Error:  err.Error(),
		}
	}

	var issues []audit.Issue
	doc.Find("[style]").Each(func(i int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		fg, fgOK := parseColor(styleValue(style, "color"))
		bg, bgOK := parseColor(styleValue(style, "background-color"))
		if !fgOK || !bgOK {
			return
		}
		ratio := contrastRatio(fg, bg)
		if ratio < minContrastRatio {
			issues = append(issues, issue(c.Kind(), "contrast", audit.SeveritySerious,
				"WCAG 1.4.3",
				fmt.Sprintf("text contrast ratio %.2f:1 is below the 4.5:1 minimum", ratio),
				selectorFor(sel, i),
				"darken the text or lighten the background to reach 4.5:1",
			))
		}
	})

	return completed(c.Kind(), issues)
}

func selectorFor(sel *goquery.Selection, i int) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	return fmt.Sprintf("%s:nth-of-type(%d)", sel.Nodes[0].Data, i+1)
}

// styleValue pulls a single declaration out of an inline style string.
func styleValue(style, prop string) string {
	for _, decl := range strings.Split(style, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), prop) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type rgb struct{ r, g, b float64 }

// parseColor handles #rgb, #rrggbb, and rgb(r,g,b) notations.
func parseColor(s string) (rgb, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseRGBFunc(s[4 : len(s)-1])
	}
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	return rgb{}, false
}

func parseHex(hex string) (rgb, bool) {
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6:
	default:
		return rgb{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{
		r: float64(v >> 16 & 0xff),
		g: float64(v >> 8 & 0xff),
		b: float64(v & 0xff),
	}, true
}

func parseRGBFunc(args string) (rgb, bool) {
	parts := strings.Split(args, ",")
	if len(parts) != 3 {
		return rgb{}, false
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 || v > 255 {
			return rgb{}, false
		}
		vals[i] = v
	}
	return rgb{r: vals[0], g: vals[1], b: vals[2]}, true
}

// relativeLuminance implements the WCAG 2.x definition.
func relativeLuminance(c rgb) float64 {
	lin := func(v float64) float64 {
		v /= 255
		if v <= 0.04045 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(c.r) + 0.7152*lin(c.g) + 0.0722*lin(c.b)
}

func contrastRatio(a, b rgb) float64 {
	la, lb := relativeLuminance(a), relativeLuminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

var namedColors = map[string]rgb{
	"black":  {0, 0, 0},
	"white":  {255, 255, 255},
	"red":    {255, 0, 0},
	"green":  {0, 128, 0},
	"blue":   {0, 0, 255},
	"gray":   {128, 128, 128},
	"grey":   {128, 128, 128},
	"silver": {192, 192, 192},
	"yellow": {255, 255, 0},
	"orange": {255, 165, 0},
	"purple": {128, 0, 128},
}
