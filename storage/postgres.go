package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"portfolio_scraper/config"
	"portfolio_scraper/identity"
	"portfolio_scraper/models"
)

// PgxPool is the part of *pgxpool.Pool the sink uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const companiesSchema = `
	CREATE TABLE IF NOT EXISTS portfolio_companies (
		record_key TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		identifier TEXT NOT NULL,
		detail_link TEXT NOT NULL,
		data JSONB NOT NULL,
		enriched BOOLEAN NOT NULL DEFAULT FALSE,
		run_id TEXT NOT NULL,
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		scraped_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_portfolio_companies_site ON portfolio_companies(site_id, scraped_at);`

const upsertCompany = `
	INSERT INTO portfolio_companies (record_key, site_id, identifier, detail_link, data, enriched, run_id, scraped_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (record_key) DO UPDATE SET
		identifier = EXCLUDED.identifier,
		detail_link = EXCLUDED.detail_link,
		data = CASE
			WHEN EXCLUDED.enriched OR NOT portfolio_companies.enriched THEN EXCLUDED.data
			ELSE portfolio_companies.data || EXCLUDED.data
		END,
		enriched = EXCLUDED.enriched OR portfolio_companies.enriched,
		run_id = EXCLUDED.run_id,
		scraped_at = EXCLUDED.scraped_at`

// PostgresSink upserts every record into portfolio_companies, keyed by
// identity.RecordKey, in one transaction per run. A listing-only record does
// not discard detail fields stored by an earlier enriched run.
type PostgresSink struct {
	pool PgxPool
}

func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	sink := NewPostgresSinkWithPool(pool)
	if err := sink.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

func NewPostgresSinkWithPool(pool PgxPool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, companiesSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, site *config.SiteConfig, result *models.RunResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := s.upsertAll(ctx, tx, site, result); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresSink) upsertAll(ctx context.Context, tx pgx.Tx, site *config.SiteConfig, result *models.RunResult) error {
	scrapedAt := result.FinishedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	for i, r := range result.Records {
		identifier := r.Fields.String(site.Keys.Identifier)
		link := r.Fields.String(site.Keys.DetailLink)

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}

		_, err = tx.Exec(ctx, upsertCompany,
			identity.RecordKey(site.ID, link, identifier), site.ID, identifier, link,
			data, r.Enriched, result.RunID, scrapedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert %q: %w", identifier, err)
		}
	}
	return nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
