package models

import (
	"time"

	"portfolio_scraper/config"
)

// CandidateRecord is one item discovered on a listing page. Fields holds every
// listing-stage value in schema order, including the four role fields.
type CandidateRecord struct {
	Identifier string
	DetailLink string
	Summary    string
	Thumbnail  string
	Fields     Fields
}

// NewCandidate lifts the role fields named by keys out of fields. Role keys
// that the schema does not produce are added as "" so they are never absent.
func NewCandidate(fields Fields, keys config.RecordKeys) CandidateRecord {
	for _, k := range []string{keys.Identifier, keys.DetailLink, keys.Summary, keys.Thumbnail} {
		if !fields.Has(k) {
			fields.Set(k, "")
		}
	}
	return CandidateRecord{
		Identifier: fields.String(keys.Identifier),
		DetailLink: fields.String(keys.DetailLink),
		Summary:    fields.String(keys.Summary),
		Thumbnail:  fields.String(keys.Thumbnail),
		Fields:     fields,
	}
}

// FinalRecord is a candidate merged with its enrichment, if any.
type FinalRecord struct {
	Fields   Fields
	Enriched bool
}

func (r FinalRecord) MarshalJSON() ([]byte, error) {
	return r.Fields.MarshalJSON()
}

// RunResult is the ordered output of one site run.
type RunResult struct {
	RunID      string
	SiteID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []FinalRecord
	Enriched   int
	Failed     int
	Skipped    int
}

func (r *RunResult) Count() int {
	return len(r.Records)
}
