package scraper

import (
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/extract"
	"portfolio_scraper/models"
)

// ListExtractor reads the candidate records off a revealed listing page,
// in page order.
type ListExtractor interface {
	Extract(ctx context.Context, page browser.Page) ([]models.CandidateRecord, error)
}

func NewListExtractor(site *config.SiteConfig) ListExtractor {
	if site.Listing.Pagination.Kind == config.PaginationEmbedded {
		return &EmbeddedLister{site: site}
	}
	return &DOMLister{site: site}
}

// DOMLister maps every element matching the item selector to a candidate.
type DOMLister struct {
	site *config.SiteConfig
}

func (l *DOMLister) Extract(ctx context.Context, page browser.Page) ([]models.CandidateRecord, error) {
	doc, err := extract.Document(ctx, page)
	if err != nil {
		return nil, err
	}

	base := pageBase(page, l.site.BaseURL)
	candidates := make([]models.CandidateRecord, 0)
	doc.Find(l.site.Listing.Item).Each(func(_ int, s *goquery.Selection) {
		fields := extract.HTMLFields(s, l.site.Listing.Fields, base)
		candidates = append(candidates, models.NewCandidate(fields, l.site.Keys))
	})
	return candidates, nil
}

// EmbeddedLister reads candidates out of the page's embedded data blob.
// A missing or unparsable blob is an error; a blob without a matching
// container is an empty listing.
type EmbeddedLister struct {
	site *config.SiteConfig
}

func (l *EmbeddedLister) Extract(ctx context.Context, page browser.Page) ([]models.CandidateRecord, error) {
	blob, err := extract.ReadBlob(ctx, page, nil, *l.site.Listing.Blob)
	if err != nil {
		return nil, err
	}

	base := pageBase(page, l.site.BaseURL)
	items := extract.Items(blob, l.site.Listing.Container)
	candidates := make([]models.CandidateRecord, 0, len(items))
	for _, item := range items {
		fields := extract.JSONFields(item, l.site.Listing.Fields, base)
		candidates = append(candidates, models.NewCandidate(fields, l.site.Keys))
	}
	return candidates, nil
}

// pageBase is the URL relative links on page resolve against: the page's
// own address when known, else fallback.
func pageBase(page browser.Page, fallback string) *url.URL {
	if u, err := url.Parse(page.URL()); err == nil && u.IsAbs() {
		return u
	}
	if u, err := url.Parse(fallback); err == nil {
		return u
	}
	return nil
}
