package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/models"
)

var (
	ErrBlobMissing = errors.New("embedded data not found")
	ErrBlobInvalid = errors.New("embedded data is not valid JSON")
)

const globalScript = `(name) => {
  const v = window[name];
  return v === undefined || v === null ? "" : JSON.stringify(v);
}`

// ReadBlob locates the embedded payload described by spec. doc is reused for
// script lookups when the caller already has a snapshot; it may be nil.
func ReadBlob(ctx context.Context, page browser.Page, doc *goquery.Document, spec config.BlobConfig) (gjson.Result, error) {
	var raw string

	switch {
	case spec.Script != "":
		if doc == nil {
			var err error
			if doc, err = Document(ctx, page); err != nil {
				return gjson.Result{}, err
			}
		}
		script := doc.Find(spec.Script).First()
		if script.Length() == 0 {
			return gjson.Result{}, fmt.Errorf("%w: no %s", ErrBlobMissing, spec.Script)
		}
		raw = script.Text()

	case spec.Global != "":
		v, err := page.Evaluate(ctx, globalScript, spec.Global)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("read window.%s: %w", spec.Global, err)
		}
		raw, _ = v.(string)
		if raw == "" {
			return gjson.Result{}, fmt.Errorf("%w: window.%s is unset", ErrBlobMissing, spec.Global)
		}
	}

	return ParseBlob(raw)
}

func ParseBlob(raw string) (gjson.Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return gjson.Result{}, ErrBlobMissing
	}
	if !gjson.Valid(raw) {
		return gjson.Result{}, ErrBlobInvalid
	}
	return gjson.Parse(raw), nil
}

// Items returns the entries of every matching container's item array, in
// document order. No match at any depth yields an empty slice.
func Items(blob gjson.Result, c config.ContainerConfig) []gjson.Result {
	start := blob
	if c.Root != "" {
		// the root is a hint; fall back to the whole blob when it moved
		if r := blob.Get(c.Root); r.Exists() {
			start = r
		}
	}

	var items []gjson.Result
	for _, container := range FindContainers(start, c) {
		items = append(items, child(container, c.Items).Array()...)
	}
	return items
}

// FindContainers walks r depth first for objects whose c.Key member equals
// c.Value and whose c.Items member is an array. Only the first is returned
// unless c.All is set.
func FindContainers(r gjson.Result, c config.ContainerConfig) []gjson.Result {
	var found []gjson.Result

	var walk func(r gjson.Result) bool
	walk = func(r gjson.Result) bool {
		if r.IsObject() && isContainer(r, c) {
			found = append(found, r)
			return c.All
		}
		if !r.IsObject() && !r.IsArray() {
			return true
		}
		more := true
		r.ForEach(func(_, v gjson.Result) bool {
			more = walk(v)
			return more
		})
		return more
	}

	walk(r)
	return found
}

func isContainer(r gjson.Result, c config.ContainerConfig) bool {
	return child(r, c.Key).String() == c.Value && child(r, c.Items).IsArray()
}

// child looks a member up by exact name, so keys containing path syntax
// need no escaping.
func child(r gjson.Result, name string) gjson.Result {
	var out gjson.Result
	r.ForEach(func(k, v gjson.Result) bool {
		if k.String() == name {
			out = v
			return false
		}
		return true
	})
	return out
}

// JSONFields evaluates path specs relative to item.
func JSONFields(item gjson.Result, specs []config.FieldSpec, base *url.URL) models.Fields {
	out := models.NewFields()
	for _, spec := range specs {
		out.Set(spec.Name, JSONValue(item, spec, base))
	}
	return out
}

// JSONValue evaluates one path field relative to item. A zero item yields
// the field's empty value.
func JSONValue(item gjson.Result, spec config.FieldSpec, base *url.URL) any {
	r := item
	if spec.Path != "" {
		r = item.Get(spec.Path)
	}

	switch {
	case spec.IsGroup():
		groups := make([]models.Fields, 0)
		for _, el := range r.Array() {
			if el.IsObject() {
				groups = append(groups, JSONFields(el, spec.Fields, base))
			}
		}
		return groups

	case spec.List:
		values := make([]string, 0)
		for _, el := range flatten(r) {
			if v := finish(el.String(), spec, base); keep(v, spec.Filter) {
				values = append(values, v)
			}
		}
		return values

	case r.IsArray():
		return finish(joinNested(r, spec.Join, 0), spec, base)

	case !r.Exists() || r.Type == gjson.Null || r.IsObject():
		return ""

	default:
		return finish(r.String(), spec, base)
	}
}

// joinNested joins an array of scalars or arrays, using seps[depth] at each
// level. Deeper levels reuse the last separator; the default is a space.
func joinNested(r gjson.Result, seps []string, depth int) string {
	sep := " "
	if len(seps) > 0 {
		sep = seps[min(depth, len(seps)-1)]
	}

	var parts []string
	for _, el := range r.Array() {
		switch {
		case el.IsArray():
			parts = append(parts, joinNested(el, seps, depth+1))
		case el.IsObject(), el.Type == gjson.Null:
		default:
			parts = append(parts, el.String())
		}
	}
	return strings.Join(parts, sep)
}

func flatten(r gjson.Result) []gjson.Result {
	if !r.IsArray() {
		if !r.Exists() || r.Type == gjson.Null || r.IsObject() {
			return nil
		}
		return []gjson.Result{r}
	}
	var out []gjson.Result
	for _, el := range r.Array() {
		out = append(out, flatten(el)...)
	}
	return out
}
