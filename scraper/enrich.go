package scraper

import (
	"context"
	"fmt"
	"log"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/extract"
	"portfolio_scraper/models"
)

// DetailEnricher fetches one detail page and returns its fields. A failed
// fetch returns no fields at all.
type DetailEnricher interface {
	Enrich(ctx context.Context, link string) (models.Fields, error)
}

// PageEnricher opens a fresh page per call on a shared Fetcher and closes it
// before returning.
type PageEnricher struct {
	fetcher browser.Fetcher
	site    *config.SiteConfig
	ready   browser.Readiness
}

func NewPageEnricher(fetcher browser.Fetcher, site *config.SiteConfig) *PageEnricher {
	return &PageEnricher{
		fetcher: fetcher,
		site:    site,
		ready:   browser.ReadinessFrom(site.Detail.Readiness),
	}
}

func (e *PageEnricher) Enrich(ctx context.Context, link string) (models.Fields, error) {
	page, err := e.fetcher.Open(ctx)
	if err != nil {
		return models.Fields{}, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, link, e.ready); err != nil {
		return models.Fields{}, err
	}

	doc, err := extract.Document(ctx, page)
	if err != nil {
		return models.Fields{}, err
	}

	data, err := e.readData(ctx, page, doc)
	if err != nil {
		return models.Fields{}, err
	}

	base := pageBase(page, link)
	fields := models.NewFields()
	for _, spec := range e.site.Detail.Fields {
		if spec.Path != "" {
			fields.Set(spec.Name, extract.JSONValue(data, spec, base))
		} else {
			fields.Set(spec.Name, extract.HTMLValue(doc.Selection, spec, base))
		}
	}
	return fields, nil
}

// readData returns the detail blob narrowed to the configured root. An
// optional blob that cannot be read leaves path fields at their defaults.
func (e *PageEnricher) readData(ctx context.Context, page browser.Page, doc *goquery.Document) (gjson.Result, error) {
	d := e.site.Detail
	if d.Blob == nil {
		return gjson.Result{}, nil
	}

	blob, err := extract.ReadBlob(ctx, page, doc, *d.Blob)
	if err != nil {
		if d.Blob.Required {
			return gjson.Result{}, err
		}
		log.Printf("Warning: %s: %v", page.URL(), err)
		return gjson.Result{}, nil
	}

	if d.Root != "" {
		return blob.Get(d.Root), nil
	}
	return blob, nil
}
