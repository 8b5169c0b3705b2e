package scraper

import "portfolio_scraper/models"

// Merger combines listing and detail fields into the final record.
type Merger struct {
	authoritative map[string]bool
}

// NewMerger takes the keys whose detail value replaces a non-empty listing value.
func NewMerger(authoritative []string) *Merger {
	m := &Merger{authoritative: make(map[string]bool, len(authoritative))}
	for _, k := range authoritative {
		m.authoritative[k] = true
	}
	return m
}

// Merge keeps every listing field in order and appends detail fields after
// them. A detail value fills a missing or empty listing value; it replaces a
// non-empty one only for authoritative keys, and never with an empty value.
// A nil detail yields the listing fields alone.
func (m *Merger) Merge(c models.CandidateRecord, detail *models.Fields) models.FinalRecord {
	out := c.Fields.Clone()
	if detail == nil {
		return models.FinalRecord{Fields: out}
	}

	for _, k := range detail.Keys() {
		v, _ := detail.Get(k)
		cur, ok := out.Get(k)
		switch {
		case !ok, models.IsEmpty(cur):
			out.Set(k, v)
		case m.authoritative[k] && !models.IsEmpty(v):
			out.Set(k, v)
		}
	}
	return models.FinalRecord{Fields: out, Enriched: true}
}
