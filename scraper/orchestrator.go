package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/metrics"
	"portfolio_scraper/models"
	"portfolio_scraper/storage"
)

// Orchestrator runs configured sites through the pipeline, records each run
// in the SQLite ledger and hands completed results to the sinks.
type Orchestrator struct {
	cfg      *config.Config
	store    *storage.SQLiteStore
	fetcher  browser.Fetcher
	sinks    []storage.Sink
	metrics  *metrics.Metrics
	minLevel models.LogLevel

	// one run at a time; a scheduled tick that lands mid-run waits
	running sync.Mutex
}

func NewOrchestrator(cfg *config.Config, store *storage.SQLiteStore, fetcher browser.Fetcher) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		minLevel: models.ParseLogLevel(cfg.LogLevel),
	}
}

func (o *Orchestrator) AddSink(s storage.Sink) {
	o.sinks = append(o.sinks, s)
}

func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// RunAll runs every site in id order. A failing site does not stop the
// others; all failures are returned joined.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	var errs []error
	for _, siteID := range o.cfg.SiteIDs() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.RunSite(ctx, siteID); err != nil {
			log.Printf("Error running site %s: %v", siteID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) RunSite(ctx context.Context, siteID string) error {
	site, ok := o.cfg.Sites[siteID]
	if !ok {
		return fmt.Errorf("unknown site: %s", siteID)
	}

	o.running.Lock()
	defer o.running.Unlock()

	run := &models.ScrapeRun{
		RunID:     uuid.NewString(),
		SiteID:    siteID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}

	runID, err := o.store.CreateRun(run)
	if err != nil {
		return err
	}
	run.ID = runID

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s", site.Name), siteID)

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if err := o.store.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
		if err := o.store.UpdateSiteStats(siteID); err != nil {
			log.Printf("Warning: failed to update stats for %s: %v", siteID, err)
		}
		o.metrics.RunFinished(siteID, string(run.Status), now.Sub(run.StartedAt))
	}()

	p := NewPipeline(site, o.fetcher)
	p.RunID = run.RunID
	p.Metrics = o.metrics
	p.OnFailure = func(ferr *DetailFetchError) {
		if err := o.store.RecordFailure(&models.DetailFailure{
			RunID:      run.ID,
			Identifier: ferr.Identifier,
			Link:       ferr.Link,
			Error:      ferr.Err.Error(),
		}); err != nil {
			log.Printf("Warning: failed to record detail failure for %s: %v", ferr.Identifier, err)
		}
		o.log(run.ID, models.LogLevelWarn, ferr.Error(), siteID)
	}

	result, err := p.Run(ctx)
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Scrape failed, no output written: %v", err), siteID)
		return err
	}

	run.Candidates = result.Count()
	run.Enriched = result.Enriched
	run.Failed = result.Failed
	run.Skipped = result.Skipped

	if err := o.write(ctx, run, site, result); err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		return err
	}

	run.Status = models.RunStatusCompleted
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d companies, %d enriched, %d failed, %d without detail link",
			run.Candidates, run.Enriched, run.Failed, run.Skipped), siteID)

	return nil
}

// write hands result to every sink, even after one fails.
func (o *Orchestrator) write(ctx context.Context, run *models.ScrapeRun, site *config.SiteConfig, result *models.RunResult) error {
	var errs []error
	for _, sink := range o.sinks {
		if err := sink.Write(ctx, site, result); err != nil {
			o.log(run.ID, models.LogLevelError, fmt.Sprintf("Failed to write %s output: %v", sink.Name(), err), site.ID)
			o.metrics.SinkFailed(site.ID, sink.Name())
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
			continue
		}
		if js, ok := sink.(*storage.JSONSink); ok {
			run.Output = js.Path(site)
			o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Saved %d companies to %s", result.Count(), run.Output), site.ID)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, siteID string) {
	if level.AtLeast(o.minLevel) {
		log.Printf("[%s] %s: %s", level, siteID, message)
	}
	if err := o.store.Log(&runID, level, message, siteID); err != nil {
		log.Printf("Warning: failed to store log line: %v", err)
	}
}

// MarshalStatus reports the most recent run and success rate of every site.
func (o *Orchestrator) MarshalStatus() ([]byte, error) {
	last := make(map[string]*models.ScrapeRun)
	rates := make(map[string]float64)
	for _, id := range o.cfg.SiteIDs() {
		runs, err := o.store.GetRecentRuns(id, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			last[id] = &runs[0]
		} else {
			last[id] = nil
		}
		if rates[id], err = o.store.GetSuccessRate(id); err != nil {
			return nil, err
		}
	}

	status := map[string]interface{}{
		"sites":        o.cfg.SiteIDs(),
		"last_run":     last,
		"success_rate": rates,
	}
	return json.Marshal(status)
}
