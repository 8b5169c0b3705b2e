package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio_scraper/browser"
	"portfolio_scraper/config"
	"portfolio_scraper/logging"
	"portfolio_scraper/metrics"
	"portfolio_scraper/scheduler"
	"portfolio_scraper/scraper"
	"portfolio_scraper/storage"
)

var (
	scrapeNow = flag.Bool("scrape", false, "Run scrape once and exit")
	siteOnly  = flag.String("site", "", "Only scrape this site id (with -scrape)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile, cfg.LogMaxB)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting portfolio_scraper...")
	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		log.Printf("  - %s (%s)", cfg.Sites[id].Name, id)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Printf("Scrape failed: %v", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	pw, err := browser.Launch(browser.Options{
		Headless:   cfg.Browser.Headless,
		ProxyURL:   cfg.Browser.ProxyURL,
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: cfg.Browser.NavTimeout,
	})
	if err != nil {
		return err
	}
	defer pw.Close()
	if cfg.Browser.ProxyURL != "" {
		log.Printf("Proxy: %s", cfg.Browser.ProxyURL)
	}

	m := metrics.New()
	orchestrator := scraper.NewOrchestrator(cfg, sqliteStore, pw)
	orchestrator.SetMetrics(m)
	orchestrator.AddSink(storage.NewJSONSink(cfg.OutputDir))

	if cfg.Postgres.DBURL != "" {
		pgSink, err := storage.NewPostgresSink(ctx, cfg.Postgres.DBURL)
		if err != nil {
			return err
		}
		defer pgSink.Close()
		orchestrator.AddSink(pgSink)
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Postgres.DBURL))
	}

	if cfg.S3.Enabled() {
		s3Sink, err := storage.NewS3Sink(ctx, cfg.S3)
		if err != nil {
			return err
		}
		orchestrator.AddSink(s3Sink)
		log.Printf("Uploading snapshots to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
	}

	// Handle one-shot commands
	if *scrapeNow {
		log.Println("Running scrape...")
		if *siteOnly != "" {
			err = orchestrator.RunSite(ctx, *siteOnly)
		} else {
			err = orchestrator.RunAll(ctx)
		}
		if err != nil {
			return err
		}
		log.Println("Scrape complete!")
		return nil
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, orchestrator)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Metrics != "" {
		srv = serve(cfg.Metrics, m, orchestrator)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	log.Println("Goodbye!")
	return nil
}

func serve(addr string, m *metrics.Metrics, o *scraper.Orchestrator) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		body, err := o.MarshalStatus()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return srv
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
