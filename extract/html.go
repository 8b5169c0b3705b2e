// Package extract evaluates declarative field specs against page snapshots:
// goquery selections for rendered DOM and gjson results for embedded data.
// Every lookup has a default, so a missing element degrades one field only.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/models"
)

// Document snapshots the page's current DOM.
func Document(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// HTMLFields evaluates specs relative to root.
func HTMLFields(root *goquery.Selection, specs []config.FieldSpec, base *url.URL) models.Fields {
	out := models.NewFields()
	for _, spec := range specs {
		out.Set(spec.Name, HTMLValue(root, spec, base))
	}
	return out
}

// HTMLValue evaluates one selector field relative to root.
func HTMLValue(root *goquery.Selection, spec config.FieldSpec, base *url.URL) any {
	sel := root
	if spec.Selector != "" {
		sel = root.Find(spec.Selector)
	}
	if spec.Contains != "" {
		sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(s.Text(), spec.Contains)
		})
	}
	if spec.Within != "" {
		sel = sel.First().Find(spec.Within)
	}

	switch {
	case spec.IsGroup():
		groups := make([]models.Fields, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			groups = append(groups, HTMLFields(s, spec.Fields, base))
		})
		return groups

	case spec.List:
		values := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := htmlScalar(s, spec, base); keep(v, spec.Filter) {
				values = append(values, v)
			}
		})
		return values

	case len(spec.Join) > 0:
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			parts = append(parts, rawText(s, spec))
		})
		return finish(strings.Join(parts, spec.Join[0]), spec, base)

	default:
		if sel.Length() == 0 {
			return ""
		}
		return htmlScalar(sel.First(), spec, base)
	}
}

func htmlScalar(s *goquery.Selection, spec config.FieldSpec, base *url.URL) string {
	return finish(rawText(s, spec), spec, base)
}

func rawText(s *goquery.Selection, spec config.FieldSpec) string {
	if spec.Attr != "" {
		v, _ := s.Attr(spec.Attr)
		return v
	}
	return normalizeText(s.Text())
}

// finish trims or squashes v, then applies template and URL resolution.
func finish(v string, spec config.FieldSpec, base *url.URL) string {
	if spec.Squash {
		v = strings.Join(strings.Fields(v), "")
	} else {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return ""
	}
	if spec.Template != "" {
		v = strings.ReplaceAll(spec.Template, "{}", v)
	}
	if spec.Absolute {
		v = Resolve(base, v)
	}
	return v
}

// normalizeText collapses runs of spaces inside each line and drops blank
// lines, roughly what a browser's innerText yields.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func keep(v, filter string) bool {
	if v == "" {
		return false
	}
	return filter == "" || strings.Contains(v, filter)
}

// Resolve makes ref absolute against base. Unparseable refs are returned as is.
func Resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
