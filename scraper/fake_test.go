package scraper

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"testing"
	"time"

	"portfolio_scraper/browser"
	"portfolio_scraper/config"
)

// fakeDoc is what a fake page serves after navigating to its URL.
type fakeDoc struct {
	html   string
	global string
	navErr error
	delay  time.Duration
}

type fakeFetcher struct {
	mu      sync.Mutex
	docs    map[string]fakeDoc
	opened  int
	closed  int
	open    int
	maxOpen int
	visited []string

	// listing page behaviour, copied into every page
	consent bool
	loads   []int
	stall   bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: make(map[string]fakeDoc)}
}

func (f *fakeFetcher) Open(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	return &fakePage{f: f, consent: f.consent, loads: f.loads, stall: f.stall}, nil
}

func (f *fakeFetcher) stats() (opened, closed, maxOpen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.closed, f.maxOpen
}

type fakePage struct {
	f      *fakeFetcher
	url    string
	doc    fakeDoc
	closed bool

	consent bool
	height  int
	scrolls int
	items   int
	loads   []int
	clicks  int
	stall   bool
}

func (p *fakePage) Navigate(ctx context.Context, url string, _ browser.Readiness) error {
	p.f.mu.Lock()
	doc, ok := p.f.docs[url]
	p.f.visited = append(p.f.visited, url)
	p.f.mu.Unlock()

	if doc.delay > 0 {
		select {
		case <-time.After(doc.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s: 404", browser.ErrNavigation, url)
	}
	if doc.navErr != nil {
		return doc.navErr
	}
	p.url = url
	p.doc = doc
	return nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Content(context.Context) (string, error) { return p.doc.html, nil }

func (p *fakePage) Evaluate(context.Context, string, any) (any, error) { return p.doc.global, nil }

func (p *fakePage) ScrollHeight(context.Context) (int, error) { return p.height, nil }

func (p *fakePage) ScrollBy(context.Context, int) error {
	p.scrolls++
	return nil
}

func (p *fakePage) Count(context.Context, string) (int, error) { return p.items, nil }

func (p *fakePage) ClickMatching(_ context.Context, selector, _ string) (bool, error) {
	if strings.Contains(selector, "consent") {
		return p.consent, nil
	}
	if p.clicks >= len(p.loads) {
		return false, nil
	}
	p.clicks++
	return true, nil
}

func (p *fakePage) WaitForCount(_ context.Context, selector string, exceeds int, _ time.Duration) error {
	if !p.stall {
		p.items = p.loads[p.clicks-1]
	}
	if p.items <= exceeds {
		return fmt.Errorf("%w: count of %q stayed at %d", browser.ErrTimeout, selector, exceeds)
	}
	return nil
}

func (p *fakePage) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	if strings.Contains(selector, "consent") && p.consent {
		return nil
	}
	return fmt.Errorf("%w: waiting for %q", browser.ErrTimeout, selector)
}

func (p *fakePage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	p.f.closed++
	p.f.open--
	return nil
}

// countingLimiter never sleeps.
type countingLimiter struct {
	mu    sync.Mutex
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return 0, ctx.Err()
}

const listingURL = "https://example.com/portfolio"

type card struct {
	name string
	link string
	logo string
}

func listingHTML(cards ...card) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"grid\">")
	for _, c := range cards {
		b.WriteString(`<div class="card">`)
		if c.link != "" {
			fmt.Fprintf(&b, `<a href="%s">`, c.link)
		}
		name := html.EscapeString(c.name)
		fmt.Fprintf(&b, `<h3>%s</h3><p>About %s</p>`, name, name)
		if c.logo != "" {
			fmt.Fprintf(&b, `<img src="%s">`, c.logo)
		}
		if c.link != "" {
			b.WriteString("</a>")
		}
		b.WriteString("</div>")
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func detailHTML(status, logo string) string {
	return fmt.Sprintf(`<html><body><span class="status">%s</span><img class="hi-res" src="%s"></body></html>`, status, logo)
}

func testSite(t *testing.T) *config.SiteConfig {
	t.Helper()
	site := &config.SiteConfig{
		ID:         "example",
		Name:       "Example Capital",
		ListingURL: listingURL,
		Keys: config.RecordKeys{
			Identifier: "name",
			DetailLink: "link",
			Summary:    "summary",
			Thumbnail:  "logo",
		},
		Listing: config.ListingConfig{
			Item: ".card",
			Fields: []config.FieldSpec{
				{Name: "name", Selector: "h3"},
				{Name: "link", Selector: "a", Attr: "href", Absolute: true},
				{Name: "summary", Selector: "p"},
				{Name: "logo", Selector: "img", Attr: "src", Absolute: true},
			},
		},
		Detail: config.DetailConfig{
			Fields: []config.FieldSpec{
				{Name: "status", Selector: ".status"},
				{Name: "logo", Selector: "img.hi-res", Attr: "src", Absolute: true},
			},
		},
		Merge: config.MergeConfig{Authoritative: []string{"logo"}},
	}
	if err := site.Validate(); err != nil {
		t.Fatalf("invalid test site: %v", err)
	}
	return site
}

// fiveCompanies serves a listing of five cards and a detail page for each.
func fiveCompanies(f *fakeFetcher) []card {
	var cards []card
	for i := 1; i <= 5; i++ {
		c := card{
			name: fmt.Sprintf("Company %d", i),
			link: fmt.Sprintf("/portfolio/company-%d/", i),
			logo: fmt.Sprintf("/thumbs/%d.png", i),
		}
		cards = append(cards, c)
		f.docs["https://example.com"+c.link] = fakeDoc{
			html: detailHTML("Active", fmt.Sprintf("/logos/%d.svg", i)),
		}
	}
	f.docs[listingURL] = fakeDoc{html: listingHTML(cards...)}
	return cards
}
