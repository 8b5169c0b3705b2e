package scraper

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/models"
	"portfolio_scraper/storage"
)

const dbName = "test.db"

type failingSink struct{}

func (failingSink) Name() string { return "broken" }

func (failingSink) Write(context.Context, *config.SiteConfig, *models.RunResult) error {
	return errors.New("disk full")
}

func newTestOrchestrator(t *testing.T, f *fakeFetcher, sites ...*config.SiteConfig) (*Orchestrator, *storage.SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, dbName))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{LogLevel: "error", Sites: make(map[string]*config.SiteConfig)}
	for _, s := range sites {
		cfg.Sites[s.ID] = s
	}

	out := filepath.Join(dir, "out")
	o := NewOrchestrator(cfg, store, f)
	o.AddSink(storage.NewJSONSink(out))
	return o, store, out
}

func lastRun(t *testing.T, store *storage.SQLiteStore, siteID string) models.ScrapeRun {
	t.Helper()
	runs, err := store.GetRecentRuns(siteID, 1)
	if err != nil {
		t.Fatalf("failed to read runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected a run for %s, got %d", siteID, len(runs))
	}
	return runs[0]
}

func TestOrchestrator_RunAll(t *testing.T) {
	f := newFakeFetcher()
	cards := fiveCompanies(f)
	f.docs["https://example.com"+cards[1].link] = fakeDoc{navErr: browser.ErrNavigation}

	good := testSite(t)
	broken := testSite(t)
	broken.ID = "broken"
	broken.ListingURL = "https://example.com/gone"
	broken.Output = "broken_companies.json"

	o, store, out := newTestOrchestrator(t, f, good, broken)

	err := o.RunAll(context.Background())
	var fatal *FatalError
	if !errors.As(err, &fatal) || fatal.Site != "broken" {
		t.Fatalf("expected the broken site's fatal error, got %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "example_companies.json"))
	if err != nil {
		t.Fatalf("good site output missing: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if _, ok := records[1]["status"]; ok {
		t.Fatalf("failed detail should not contribute fields")
	}

	if _, err := os.Stat(filepath.Join(out, "broken_companies.json")); !os.IsNotExist(err) {
		t.Fatalf("failed site must not write output, stat err: %v", err)
	}

	run := lastRun(t, store, "example")
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", run.Status, run.Error)
	}
	if run.Candidates != 5 || run.Enriched != 4 || run.Failed != 1 || run.RunID == "" {
		t.Fatalf("unexpected run counts %+v", run)
	}
	if run.Output != filepath.Join(out, "example_companies.json") {
		t.Fatalf("unexpected output path %s", run.Output)
	}

	failures, err := store.GetFailures(run.ID)
	if err != nil {
		t.Fatalf("failed to read failures: %v", err)
	}
	if len(failures) != 1 || failures[0].Identifier != "Company 2" {
		t.Fatalf("unexpected failures %+v", failures)
	}

	failed := lastRun(t, store, "broken")
	if failed.Status != models.RunStatusFailed || failed.Error == "" || failed.FinishedAt == nil {
		t.Fatalf("unexpected failed run %+v", failed)
	}
}

func TestOrchestrator_SinkFailureFailsRun(t *testing.T) {
	f := newFakeFetcher()
	fiveCompanies(f)

	o, store, out := newTestOrchestrator(t, f, testSite(t))
	o.AddSink(failingSink{})

	if err := o.RunSite(context.Background(), "example"); err == nil {
		t.Fatalf("expected sink error")
	}

	// sinks after the first are still attempted, and earlier ones keep their output
	if _, err := os.Stat(filepath.Join(out, "example_companies.json")); err != nil {
		t.Fatalf("json output should exist: %v", err)
	}
	if run := lastRun(t, store, "example"); run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
}

func TestOrchestrator_UnknownSite(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, newFakeFetcher())
	if err := o.RunSite(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown site")
	}
}

func TestOrchestrator_MarshalStatus(t *testing.T) {
	f := newFakeFetcher()
	fiveCompanies(f)

	o, _, _ := newTestOrchestrator(t, f, testSite(t))
	if err := o.RunSite(context.Background(), "example"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	body, err := o.MarshalStatus()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	var status struct {
		Sites   []string                     `json:"sites"`
		LastRun map[string]*models.ScrapeRun `json:"last_run"`
		Rates   map[string]float64           `json:"success_rate"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("bad status json: %v", err)
	}
	if len(status.Sites) != 1 || status.LastRun["example"] == nil {
		t.Fatalf("unexpected status %s", body)
	}
	if status.LastRun["example"].Candidates != 5 {
		t.Fatalf("unexpected candidates in %s", body)
	}
	if status.Rates["example"] != 1 {
		t.Fatalf("expected a success rate of 1, got %s", body)
	}
}

func TestOrchestrator_LedgerErrorsAreLogged(t *testing.T) {
	f := newFakeFetcher()
	cards := fiveCompanies(f)
	f.docs["https://example.com"+cards[0].link] = fakeDoc{navErr: browser.ErrNavigation}

	o, _, out := newTestOrchestrator(t, f, testSite(t))

	db, err := sql.Open("sqlite3", filepath.Join(filepath.Dir(out), dbName))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`DROP TABLE detail_failures; DROP TABLE site_stats;`); err != nil {
		t.Fatalf("failed to drop tables: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	if err := o.RunSite(context.Background(), "example"); err != nil {
		t.Fatalf("ledger errors should not fail the run: %v", err)
	}

	logged := buf.String()
	for _, want := range []string{"failed to record detail failure for Company 1", "failed to update stats for example"} {
		if !strings.Contains(logged, want) {
			t.Fatalf("expected %q in log output:\n%s", want, logged)
		}
	}
}
