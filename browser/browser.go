// Package browser is the boundary to the headless browser engine. The rest of
// the module only sees Fetcher and Page; extraction happens on the Go side
// against snapshots returned by Content and Evaluate.
package browser

import (
	"context"
	"errors"
	"time"

	"portfolio_scraper/config"
)

var (
	ErrNavigation = errors.New("navigation failed")
	ErrTimeout    = errors.New("timed out")
	ErrClosed     = errors.New("page closed")
)

type WaitEvent string

const (
	WaitNetworkIdle      WaitEvent = "networkidle"
	WaitDOMContentLoaded WaitEvent = "domcontentloaded"
	WaitLoad             WaitEvent = "load"
)

// Readiness is the condition under which a navigated page is safe to read.
// Selector, when set, must be attached within Timeout after the load event.
type Readiness struct {
	Event    WaitEvent
	Selector string
	Timeout  time.Duration
}

func ReadinessFrom(r config.Readiness) Readiness {
	return Readiness{
		Event:    WaitEvent(r.Event),
		Selector: r.Selector,
		Timeout:  r.Timeout,
	}
}

// Fetcher opens pages on a shared browser session.
type Fetcher interface {
	Open(ctx context.Context) (Page, error)
}

// Page is one tab, owned by a single fetch. Close must be called on every path.
type Page interface {
	Navigate(ctx context.Context, url string, ready Readiness) error
	URL() string

	// Content returns the serialized DOM of the current document.
	Content(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript function expression with a serializable arg
	// and returns its JSON-compatible result.
	Evaluate(ctx context.Context, expression string, arg any) (any, error)

	ScrollHeight(ctx context.Context) (int, error)
	ScrollBy(ctx context.Context, dy int) error
	Count(ctx context.Context, selector string) (int, error)
	// ClickMatching clicks the first element matching selector whose trimmed
	// lower-cased text equals text (any element if text is empty). It reports
	// whether an element was found.
	ClickMatching(ctx context.Context, selector, text string) (bool, error)
	// WaitForCount blocks until more than exceeds elements match selector.
	WaitForCount(ctx context.Context, selector string, exceeds int, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	Close() error
}

// Bound returns the smaller of d and the time left before ctx's deadline.
func Bound(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			return left
		}
	}
	return d
}
