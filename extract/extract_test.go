package extract

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func loadDocument(t *testing.T, name string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(loadFixture(t, name))))
	if err != nil {
		t.Fatalf("failed to parse %s: %v", name, err)
	}
	return doc
}

func loadSite(t *testing.T, id string) *config.SiteConfig {
	t.Helper()
	site, err := config.LoadSite(filepath.Join("..", "config", "sites", id+".yaml"))
	if err != nil {
		t.Fatalf("failed to load site %s: %v", id, err)
	}
	return site
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad url %s: %v", raw, err)
	}
	return u
}

func expectString(t *testing.T, f models.Fields, key, want string) {
	t.Helper()
	if got := f.String(key); got != want {
		t.Fatalf("%s: expected %q, got %q", key, want, got)
	}
}

func TestHTMLFields_InflexionListing(t *testing.T) {
	site := loadSite(t, "inflexion")
	doc := loadDocument(t, "inflexion_listing.html")
	base := mustURL(t, site.BaseURL)

	var rows []models.Fields
	doc.Find(site.Listing.Item).Each(func(_ int, s *goquery.Selection) {
		rows = append(rows, HTMLFields(s, site.Listing.Fields, base))
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(rows))
	}

	first := rows[0]
	expectString(t, first, "title", "Acme Health")
	expectString(t, first, "category", "Healthcare")
	expectString(t, first, "description", "Clinics across Europe.")
	expectString(t, first, "url", "https://www.inflexion.com/portfolio/acme-health/")
	expectString(t, first, "img", "https://www.inflexion.com/media/acme.png")

	second := rows[1]
	expectString(t, second, "title", "Beta Systems")
	expectString(t, second, "url", "https://www.inflexion.com/portfolio/beta/")
	if !second.Has("description") || !second.Has("img") {
		t.Fatalf("missing elements should still produce keys, got %v", second.Keys())
	}
	expectString(t, second, "description", "")
	expectString(t, second, "img", "")
}

func TestHTMLFields_InflexionDetail(t *testing.T) {
	site := loadSite(t, "inflexion")
	doc := loadDocument(t, "inflexion_detail.html")

	f := HTMLFields(doc.Selection, site.Detail.Fields, mustURL(t, site.BaseURL))

	expectString(t, f, "status", "Current")
	expectString(t, f, "sector", "Healthcare")
	expectString(t, f, "investmentPeriod", "March 2021")
	expectString(t, f, "headquarters", "London, UK")
	expectString(t, f, "quote", "")
	expectString(t, f, "quoteAuthor", "")
	expectString(t, f, "aboutText", "About\nAcme builds clinics.")
	expectString(t, f, "valueAcceleration", "Value acceleration\nDigital roll-out & M&A.")

	contacts, _ := f.Get("contacts")
	names, ok := contacts.([]string)
	if !ok {
		t.Fatalf("contacts should be []string, got %T", contacts)
	}
	if len(names) != 2 || names[0] != "Jane Doe" || names[1] != "John Roe" {
		t.Fatalf("unexpected contacts %v", names)
	}

	raw, _ := f.Get("stats")
	stats, ok := raw.([]models.Fields)
	if !ok {
		t.Fatalf("stats should be []models.Fields, got %T", raw)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(stats))
	}
	expectString(t, stats[0], "label", "Revenue growth")
	expectString(t, stats[0], "value", "3x")
	expectString(t, stats[1], "label", "Countries")
	expectString(t, stats[1], "value", "12")
}

func TestHTMLFields_EmptyCollections(t *testing.T) {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
	specs := []config.FieldSpec{
		{Name: "tags", Selector: ".tag", List: true},
		{Name: "rows", Selector: ".row", Fields: []config.FieldSpec{{Name: "a", Selector: "a"}}},
	}

	out, err := HTMLFields(doc.Selection, specs, nil).MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != `{"tags":[],"rows":[]}` {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestHTMLFields_ListFilter(t *testing.T) {
	html := `<div>
		<img src="//images.ctfassets.net/a.png">
		<img src="/static/icon.svg">
		<img src="https://images.ctfassets.net/b.jpg">
	</div>`
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(html))
	spec := config.FieldSpec{Name: "images", Selector: "img", Attr: "src", List: true, Filter: "ctfassets.net", Absolute: true}

	f := HTMLFields(doc.Selection, []config.FieldSpec{spec}, mustURL(t, "https://hgcapital.com/portfolio/visma"))
	raw, _ := f.Get("images")
	images := raw.([]string)
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %v", images)
	}
	if images[0] != "https://images.ctfassets.net/a.png" {
		t.Fatalf("unexpected first image %s", images[0])
	}
}

func TestItems_RecursiveContainers(t *testing.T) {
	site := loadSite(t, "rediron")
	blob, err := ParseBlob(string(loadFixture(t, "rediron_listing.json")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	items := Items(blob, site.Listing.Container)
	if len(items) != 3 {
		t.Fatalf("expected 3 items across containers, got %d", len(items))
	}

	first := JSONFields(items[0], site.Listing.Fields, mustURL(t, site.BaseURL))
	expectString(t, first, "name", "Alpha Foods")
	expectString(t, first, "headquarters", "Dallas, TX")
	expectString(t, first, "investmentDate", "2019")
	expectString(t, first, "website", "https://alpha.example")
	expectString(t, first, "image", "https://a.storyblok.com/alpha.svg")
	expectString(t, first, "description", "Alpha makes snacks.")
	expectString(t, first, "detailPage", "https://redirongroup.com/investments/alpha-foods/")

	second := JSONFields(items[1], site.Listing.Fields, nil)
	expectString(t, second, "headquarters", "")
	expectString(t, second, "description", "")
	expectString(t, second, "detailPage", "https://redirongroup.com/investments/bravo/")

	third := JSONFields(items[2], site.Listing.Fields, nil)
	expectString(t, third, "name", "Charlie Labs")
}

func TestItems_FirstContainerOnly(t *testing.T) {
	blob, _ := ParseBlob(string(loadFixture(t, "rediron_listing.json")))
	c := config.ContainerConfig{Key: "component", Value: "investments", Items: "investmentItems"}

	if items := Items(blob, c); len(items) != 2 {
		t.Fatalf("expected 2 items from the first container, got %d", len(items))
	}
}

func TestItems_MissingItemsKey(t *testing.T) {
	blob, _ := ParseBlob(`{"a":{"component":"investments","other":[1,2]}}`)
	c := config.ContainerConfig{Key: "component", Value: "investments", Items: "investmentItems"}

	if items := Items(blob, c); len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestJSONFields_NestedJoin(t *testing.T) {
	blob, _ := ParseBlob(string(loadFixture(t, "hgcapital_detail.json")))
	root := blob.Get("props.pageProps.data.companyCollection.items.0")
	specs := []config.FieldSpec{
		{Name: "description", Path: "description.json.content.#.content.#.value", Join: []string{"\n\n", ""}},
		{Name: "website", Path: "websiteUrl.url"},
		{Name: "linkedin", Path: "linkedInUrl"},
		{Name: "twitter", Path: "twitterUrl"},
		{Name: "team", Path: "team.#.name", List: true},
	}

	f := JSONFields(root, specs, nil)
	expectString(t, f, "description", "Visma is a software group.\n\nIt serves SMBs.")
	expectString(t, f, "website", "https://www.visma.com")
	expectString(t, f, "linkedin", "https://www.linkedin.com/company/visma")
	expectString(t, f, "twitter", "")

	team, _ := f.Get("team")
	if names, ok := team.([]string); !ok || len(names) != 0 {
		t.Fatalf("expected empty team list, got %#v", team)
	}
}

func TestParseBlob_Errors(t *testing.T) {
	if _, err := ParseBlob("   "); !errors.Is(err, ErrBlobMissing) {
		t.Fatalf("expected ErrBlobMissing, got %v", err)
	}
	if _, err := ParseBlob(`{"props":`); !errors.Is(err, ErrBlobInvalid) {
		t.Fatalf("expected ErrBlobInvalid, got %v", err)
	}
}

// stubPage serves a fixed document and a fixed Evaluate result.
type stubPage struct {
	html string
	eval any
}

func (p *stubPage) Navigate(context.Context, string, browser.Readiness) error { return nil }
func (p *stubPage) URL() string                                               { return "" }
func (p *stubPage) Content(context.Context) (string, error)                   { return p.html, nil }
func (p *stubPage) Evaluate(context.Context, string, any) (any, error)        { return p.eval, nil }
func (p *stubPage) ScrollHeight(context.Context) (int, error)                 { return 0, nil }
func (p *stubPage) ScrollBy(context.Context, int) error                       { return nil }
func (p *stubPage) Count(context.Context, string) (int, error)                { return 0, nil }
func (p *stubPage) ClickMatching(context.Context, string, string) (bool, error) {
	return false, nil
}
func (p *stubPage) WaitForCount(context.Context, string, int, time.Duration) error { return nil }
func (p *stubPage) WaitForSelector(context.Context, string, time.Duration) error   { return nil }
func (p *stubPage) Close() error                                                   { return nil }

func TestReadBlob_Script(t *testing.T) {
	page := &stubPage{html: `<html><head><script id="__NEXT_DATA__" type="application/json">{"a":{"b":"c"}}</script></head></html>`}

	blob, err := ReadBlob(context.Background(), page, nil, config.BlobConfig{Script: "script#__NEXT_DATA__"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if blob.Get("a.b").String() != "c" {
		t.Fatalf("unexpected blob %s", blob.Raw)
	}

	page.html = "<html></html>"
	if _, err := ReadBlob(context.Background(), page, nil, config.BlobConfig{Script: "script#__NEXT_DATA__"}); !errors.Is(err, ErrBlobMissing) {
		t.Fatalf("expected ErrBlobMissing, got %v", err)
	}
}

func TestReadBlob_Global(t *testing.T) {
	page := &stubPage{eval: `{"props":{"ok":true}}`}

	blob, err := ReadBlob(context.Background(), page, nil, config.BlobConfig{Global: "__NEXT_DATA__"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !blob.Get("props.ok").Bool() {
		t.Fatalf("unexpected blob %s", blob.Raw)
	}

	page.eval = ""
	if _, err := ReadBlob(context.Background(), page, nil, config.BlobConfig{Global: "__NEXT_DATA__"}); !errors.Is(err, ErrBlobMissing) {
		t.Fatalf("expected ErrBlobMissing, got %v", err)
	}
}
