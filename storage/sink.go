package storage

import (
	"context"

	"portfolio_scraper/config"
	"portfolio_scraper/models"
)

// Sink persists the ordered records of one completed run. Sinks are only
// called for runs that reached the end of enrichment.
type Sink interface {
	Name() string
	Write(ctx context.Context, site *config.SiteConfig, result *models.RunResult) error
}
