package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
)

const defaultNavTimeout = 60 * time.Second

const clickMatchingScript = `({ selector, text }) => {
  const want = (text || "").trim().toLowerCase();
  const el = Array.from(document.querySelectorAll(selector)).find(
    (e) => !want || (e.innerText || e.textContent || "").trim().toLowerCase() === want
  );
  if (!el) return false;
  el.click();
  return true;
}`

const countExceedsScript = `([selector, prev]) => document.querySelectorAll(selector).length > prev`

type Options struct {
	Headless   bool
	ProxyURL   string
	UserAgent  string
	NavTimeout time.Duration
}

// Playwright is the shared browser session. It is created once per process
// and handed to every component that opens pages.
type Playwright struct {
	opts    Options
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	mu      sync.Mutex
	open    atomic.Int64
	closed  bool
}

func Launch(opts Options) (*Playwright, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = defaultNavTimeout
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if opts.ProxyURL != "" {
		launch.Proxy = &playwright.Proxy{Server: opts.ProxyURL}
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Playwright{
		opts:    opts,
		pw:      pw,
		browser: browser,
		context: bctx,
	}, nil
}

func (b *Playwright) Open(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	b.open.Add(1)
	return &playwrightPage{owner: b, page: page}, nil
}

func (b *Playwright) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if n := b.open.Load(); n > 0 {
		log.Printf("Warning: closing browser with %d open pages", n)
	}
	if b.context != nil {
		b.context.Close()
	}
	if b.browser != nil {
		b.browser.Close()
	}
	if b.pw != nil {
		b.pw.Stop()
	}
}

type playwrightPage struct {
	owner  *Playwright
	page   playwright.Page
	closed atomic.Bool
}

func (p *playwrightPage) Navigate(ctx context.Context, url string, ready Readiness) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := ready.Timeout
	if timeout <= 0 {
		timeout = p.owner.opts.NavTimeout
	}
	ms, err := remaining(ctx, timeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}

	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms),
		WaitUntil: waitUntil(ready.Event),
	})
	if err != nil {
		return navError(url, err)
	}

	if ready.Selector != "" {
		if err := p.WaitForSelector(ctx, ready.Selector, timeout); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
		}
	}
	return nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *playwrightPage) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if arg == nil {
		return p.page.Evaluate(expression)
	}
	return p.page.Evaluate(expression, arg)
}

func (p *playwrightPage) ScrollHeight(ctx context.Context) (int, error) {
	v, err := p.Evaluate(ctx, `() => document.body.scrollHeight`, nil)
	if err != nil {
		return 0, err
	}
	return toInt(v), nil
}

func (p *playwrightPage) ScrollBy(ctx context.Context, dy int) error {
	_, err := p.Evaluate(ctx, `(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

func (p *playwrightPage) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.page.Locator(selector).Count()
}

func (p *playwrightPage) ClickMatching(ctx context.Context, selector, text string) (bool, error) {
	v, err := p.Evaluate(ctx, clickMatchingScript, map[string]any{
		"selector": selector,
		"text":     text,
	})
	if err != nil {
		return false, err
	}
	clicked, _ := v.(bool)
	return clicked, nil
}

func (p *playwrightPage) WaitForCount(ctx context.Context, selector string, exceeds int, timeout time.Duration) error {
	ms, err := remaining(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = p.page.WaitForFunction(countExceedsScript, []any{selector, exceeds}, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(ms),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: count of %q stayed at %d", ErrTimeout, selector, exceeds)
		}
		return err
	}
	return nil
}

func (p *playwrightPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	ms, err := remaining(ctx, timeout)
	if err != nil {
		return err
	}
	err = p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(ms),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: waiting for %q", ErrTimeout, selector)
		}
		return err
	}
	return nil
}

func (p *playwrightPage) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.owner.open.Add(-1)
	return p.page.Close()
}

func navError(url string, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w: %s", ErrNavigation, ErrTimeout, url)
	}
	return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
}

func waitUntil(e WaitEvent) *playwright.WaitUntilState {
	switch e {
	case WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

// remaining converts the remaining wait into playwright milliseconds. Zero means
// "no timeout" to playwright, so an exhausted wait is an error here.
func remaining(ctx context.Context, d time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d = Bound(ctx, d)
	if d < time.Millisecond {
		return 0, fmt.Errorf("%w: no time left", ErrTimeout)
	}
	return float64(d / time.Millisecond), nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
