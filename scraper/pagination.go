package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"portfolio_scraper/browser"
	"portfolio_scraper/config"
)

// Strategy makes every candidate on an already navigated listing page
// available for extraction.
type Strategy interface {
	Reveal(ctx context.Context, page browser.Page) error
}

func NewStrategy(site *config.SiteConfig) Strategy {
	p := site.Listing.Pagination
	switch p.Kind {
	case config.PaginationScroll:
		return &Scroll{Step: p.Step, Interval: p.Interval, MaxTicks: p.MaxTicks}
	case config.PaginationLoadMore:
		return &LoadMore{
			Item:      site.Listing.Item,
			Selector:  p.Button.Selector,
			Text:      p.Button.Text,
			Wait:      p.WaitTimeout,
			MaxClicks: p.MaxClicks,
		}
	case config.PaginationEmbedded:
		return Embedded{}
	default:
		return None{}
	}
}

// Scroll advances the viewport by Step every Interval until the distance
// scrolled reaches the document height read on that tick. The height is
// re-read each tick, so content appended by lazy loading extends the walk.
type Scroll struct {
	Step     int
	Interval time.Duration
	MaxTicks int

	ticks int
}

func (s *Scroll) Reveal(ctx context.Context, page browser.Page) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	total := 0
	for s.ticks = 0; s.ticks < s.MaxTicks; {
		height, err := page.ScrollHeight(ctx)
		if err != nil {
			return fmt.Errorf("read scroll height: %w", err)
		}
		if err := page.ScrollBy(ctx, s.Step); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		s.ticks++
		total += s.Step

		if total >= height {
			log.Printf("Scrolled %dpx in %d steps", total, s.ticks)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	log.Printf("Warning: stopped scrolling after %d steps (%dpx)", s.ticks, total)
	return nil
}

// Ticks is the number of scroll steps taken by the last Reveal.
func (s *Scroll) Ticks() int {
	return s.ticks
}

// LoadMore clicks the "load more" control until it disappears. Each click
// must grow the item count within Wait, otherwise the listing has stalled.
type LoadMore struct {
	Item      string
	Selector  string
	Text      string
	Wait      time.Duration
	MaxClicks int

	clicks int
}

func (l *LoadMore) Reveal(ctx context.Context, page browser.Page) error {
	for l.clicks = 0; l.clicks < l.MaxClicks; {
		before, err := page.Count(ctx, l.Item)
		if err != nil {
			return fmt.Errorf("count items: %w", err)
		}

		clicked, err := page.ClickMatching(ctx, l.Selector, l.Text)
		if err != nil {
			return fmt.Errorf("click load more: %w", err)
		}
		if !clicked {
			log.Printf("Load more exhausted after %d clicks (%d items)", l.clicks, before)
			return nil
		}
		l.clicks++

		if err := page.WaitForCount(ctx, l.Item, before, l.Wait); err != nil {
			if errors.Is(err, browser.ErrTimeout) {
				return fmt.Errorf("%w: still %d items %s after click %d", ErrPaginationStalled, before, l.Wait, l.clicks)
			}
			return err
		}
	}

	log.Printf("Warning: stopped after %d load more clicks", l.clicks)
	return nil
}

// Clicks is the number of successful clicks made by the last Reveal.
func (l *LoadMore) Clicks() int {
	return l.clicks
}

// Embedded listings ship every item in a data blob; nothing to reveal.
type Embedded struct{}

func (Embedded) Reveal(context.Context, browser.Page) error { return nil }

type None struct{}

func (None) Reveal(context.Context, browser.Page) error { return nil }
