package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"portfolio_scraper/config"
	"portfolio_scraper/models"
)

// JSONSink writes each site's records to <dir>/<site output> as an indented
// JSON array. The file is replaced atomically, so a reader never sees a
// partial snapshot.
type JSONSink struct {
	dir string
}

func NewJSONSink(dir string) *JSONSink {
	return &JSONSink{dir: dir}
}

func (s *JSONSink) Name() string {
	return "json"
}

func (s *JSONSink) Path(site *config.SiteConfig) string {
	return filepath.Join(s.dir, site.Output)
}

func (s *JSONSink) Write(ctx context.Context, site *config.SiteConfig, result *models.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeRecords(result.Records)
	if err != nil {
		return err
	}

	path := s.Path(site)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// EncodeRecords renders records as a two-space indented array without HTML
// escaping. An empty run encodes as [].
func EncodeRecords(records []models.FinalRecord) ([]byte, error) {
	if records == nil {
		records = []models.FinalRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return buf.Bytes(), nil
}
