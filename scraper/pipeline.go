package scraper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/metrics"
	"portfolio_scraper/models"
)

// Pipeline runs one site: listing fetch, pagination, extraction, then detail
// enrichment and merge for every candidate in listing order.
type Pipeline struct {
	Site     *config.SiteConfig
	Fetcher  browser.Fetcher
	Strategy Strategy
	Lister   ListExtractor
	Enricher DetailEnricher
	Limiter  RateLimiter
	Merger   *Merger
	Workers  int
	Metrics  *metrics.Metrics

	// RunID labels the result; a fresh one is generated when empty.
	RunID string

	// OnFailure, if set, is called for every recovered detail failure.
	OnFailure func(*DetailFetchError)
}

func NewPipeline(site *config.SiteConfig, fetcher browser.Fetcher) *Pipeline {
	p := &Pipeline{
		Site:     site,
		Fetcher:  fetcher,
		Strategy: NewStrategy(site),
		Lister:   NewListExtractor(site),
		Limiter:  NewRateLimiter(site.RateLimit),
		Merger:   NewMerger(site.Merge.Authoritative),
		Workers:  site.Workers,
	}
	if site.Detail.Enabled() {
		p.Enricher = NewPageEnricher(fetcher, site)
	}
	return p
}

// Run returns the ordered records, or a *FatalError when the listing stage
// fails or ctx ends. Detail failures are never returned.
func (p *Pipeline) Run(ctx context.Context) (*models.RunResult, error) {
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	result := &models.RunResult{
		RunID:     p.RunID,
		SiteID:    p.Site.ID,
		StartedAt: time.Now(),
	}

	candidates, err := p.list(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Found %d companies on %s", len(candidates), p.Site.ListingURL)
	p.Metrics.Candidates(p.Site.ID, len(candidates))

	p.enrichAll(ctx, candidates, result)
	if err := ctx.Err(); err != nil {
		return nil, &FatalError{Site: p.Site.ID, Stage: "enrich", Err: err}
	}

	result.FinishedAt = time.Now()
	log.Printf("Scraped %d companies (%d enriched, %d failed, %d without detail link)",
		result.Count(), result.Enriched, result.Failed, result.Skipped)
	return result, nil
}

// list owns the listing page; it is closed before enrichment starts.
func (p *Pipeline) list(ctx context.Context) ([]models.CandidateRecord, error) {
	page, err := p.Fetcher.Open(ctx)
	if err != nil {
		return nil, &FatalError{Site: p.Site.ID, Stage: "open", Err: err}
	}
	defer page.Close()

	log.Printf("Navigating to %s", p.Site.ListingURL)
	if err := page.Navigate(ctx, p.Site.ListingURL, browser.ReadinessFrom(p.Site.Listing.Readiness)); err != nil {
		return nil, &FatalError{Site: p.Site.ID, Stage: "listing", Err: err}
	}

	p.dismissConsent(ctx, page)

	if err := p.Strategy.Reveal(ctx, page); err != nil {
		return nil, &FatalError{Site: p.Site.ID, Stage: "pagination", Err: err}
	}

	candidates, err := p.Lister.Extract(ctx, page)
	if err != nil {
		return nil, &FatalError{Site: p.Site.ID, Stage: "extract", Err: err}
	}
	return candidates, nil
}

// dismissConsent clicks the cookie banner if it shows up in time.
func (p *Pipeline) dismissConsent(ctx context.Context, page browser.Page) {
	c := p.Site.Consent
	if c == nil {
		return
	}
	if err := page.WaitForSelector(ctx, c.Selector, c.Timeout); err != nil {
		log.Printf("No cookie banner found (%v)", err)
		return
	}
	if clicked, err := page.ClickMatching(ctx, c.Selector, ""); err != nil || !clicked {
		log.Printf("Warning: could not dismiss cookie banner: %v", err)
		return
	}
	log.Println("Accepted cookies")
}

// enrichAll fills result.Records in candidate order. A worker slot is taken
// before the limiter runs, so with one worker the delay always falls between
// the end of one detail fetch and the start of the next.
func (p *Pipeline) enrichAll(ctx context.Context, candidates []models.CandidateRecord, result *models.RunResult) {
	records := make([]models.FinalRecord, len(candidates))
	slots := semaphore.NewWeighted(int64(max(p.Workers, 1)))

	var (
		g  errgroup.Group
		mu sync.Mutex
	)

	fetched := 0
	for i, c := range candidates {
		if c.DetailLink == "" || p.Enricher == nil {
			records[i] = p.Merger.Merge(c, nil)
			result.Skipped++
			p.Metrics.Detail(p.Site.ID, "skipped", 0)
			continue
		}

		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		if fetched > 0 {
			waited, err := p.Limiter.Wait(ctx)
			p.Metrics.RateLimited(p.Site.ID, waited)
			if err != nil {
				slots.Release(1)
				break
			}
		}
		fetched++

		log.Printf("(%d/%d) Scraping: %s", i+1, len(candidates), c.Identifier)
		g.Go(func() error {
			defer slots.Release(1)

			start := time.Now()
			fields, err := p.Enricher.Enrich(ctx, c.DetailLink)
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				ferr := &DetailFetchError{Identifier: c.Identifier, Link: c.DetailLink, Err: err}
				log.Printf("Error scraping %s (%s): %v", c.Identifier, c.DetailLink, err)
				records[i] = p.Merger.Merge(c, nil)
				result.Failed++
				p.Metrics.Detail(p.Site.ID, "failed", elapsed)
				if p.OnFailure != nil {
					p.OnFailure(ferr)
				}
				return nil
			}

			records[i] = p.Merger.Merge(c, &fields)
			result.Enriched++
			p.Metrics.Detail(p.Site.ID, "enriched", elapsed)
			return nil
		})
	}

	g.Wait()
	result.Records = records
}
