package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"portfolio_scraper/models"
)

// SQLiteStore is the local run ledger: one row per site run, its log lines
// and every recovered detail failure.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		site_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		candidates INTEGER DEFAULT 0,
		enriched INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		output TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS detail_failures (
		id INTEGER PRIMARY KEY,
		run_id INTEGER NOT NULL,
		identifier TEXT,
		link TEXT,
		error TEXT,
		failed_at DATETIME,
		FOREIGN KEY (run_id) REFERENCES scrape_runs(id)
	);

	CREATE TABLE IF NOT EXISTS site_stats (
		site_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		last_candidates INTEGER,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_site ON scrape_runs(site_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_failures_run ON detail_failures(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (run_id, site_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.SiteID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET run_id = ?, finished_at = ?, status = ?, candidates = ?,
			enriched = ?, failed = ?, skipped = ?, error = ?, output = ?
		WHERE id = ?`,
		run.RunID, run.FinishedAt, run.Status, run.Candidates,
		run.Enriched, run.Failed, run.Skipped, run.Error, run.Output, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, siteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, site_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, siteID)
	return err
}

func (s *SQLiteStore) RecordFailure(f *models.DetailFailure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO detail_failures (run_id, identifier, link, error, failed_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.RunID, f.Identifier, f.Link, f.Error, f.FailedAt)
	if err != nil {
		return err
	}
	f.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) GetFailures(runID int64) ([]models.DetailFailure, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, identifier, link, error, failed_at
		FROM detail_failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []models.DetailFailure
	for rows.Next() {
		var f models.DetailFailure
		if err := rows.Scan(&f.ID, &f.RunID, &f.Identifier, &f.Link, &f.Error, &f.FailedAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (s *SQLiteStore) GetRecentRuns(siteID string, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(run_id, ''), site_id, started_at, finished_at, status,
			candidates, enriched, failed, skipped, COALESCE(error, ''), COALESCE(output, '')
		FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.RunID, &r.SiteID, &r.StartedAt, &finished, &r.Status,
			&r.Candidates, &r.Enriched, &r.Failed, &r.Skipped, &r.Error, &r.Output); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetLogs(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, site_id
		FROM scrape_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SiteID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateSiteStats(siteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO site_stats (site_id, last_run_at, last_run_status, last_candidates, success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			(SELECT status FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			(SELECT candidates FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			(SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) / COUNT(*)
				FROM scrape_runs WHERE site_id = ? AND status != 'running'),
			(SELECT CAST(AVG(strftime('%s', finished_at) - strftime('%s', started_at)) AS INTEGER)
				FROM scrape_runs WHERE site_id = ? AND finished_at IS NOT NULL)
		ON CONFLICT(site_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			last_candidates = excluded.last_candidates,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		siteID, siteID, siteID, siteID, siteID, siteID)
	return err
}

// GetSuccessRate is the share of finished runs for siteID that completed.
func (s *SQLiteStore) GetSuccessRate(siteID string) (float64, error) {
	var rate sql.NullFloat64
	err := s.db.QueryRow(`SELECT success_rate FROM site_stats WHERE site_id = ?`, siteID).Scan(&rate)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return rate.Float64, err
}

func (s *SQLiteStore) GetLastRunTime(siteID string) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(`
		SELECT started_at FROM scrape_runs WHERE site_id = ? AND status = 'completed'
		ORDER BY started_at DESC LIMIT 1`, siteID).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}
