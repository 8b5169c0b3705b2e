package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID         int64      `json:"id" db:"id"`
	RunID      string     `json:"run_id" db:"run_id"`
	SiteID     string     `json:"site_id" db:"site_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     RunStatus  `json:"status" db:"status"`
	Candidates int        `json:"candidates" db:"candidates"`
	Enriched   int        `json:"enriched" db:"enriched"`
	Failed     int        `json:"failed" db:"failed"`
	Skipped    int        `json:"skipped" db:"skipped"`
	Error      string     `json:"error" db:"error"`
	Output     string     `json:"output" db:"output"`
}

// DetailFailure records one candidate whose detail page could not be read.
type DetailFailure struct {
	ID         int64     `json:"id" db:"id"`
	RunID      int64     `json:"run_id" db:"run_id"`
	Identifier string    `json:"identifier" db:"identifier"`
	Link       string    `json:"link" db:"link"`
	Error      string    `json:"error" db:"error"`
	FailedAt   time.Time `json:"failed_at" db:"failed_at"`
}
