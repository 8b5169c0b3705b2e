package config

import (
	"errors"
	"fmt"
	"time"
)

type SiteConfig struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	BaseURL    string          `yaml:"base_url"`
	ListingURL string          `yaml:"listing_url"`
	Output     string          `yaml:"output"`
	Keys       RecordKeys      `yaml:"keys"`
	Consent    *ConsentConfig  `yaml:"consent"`
	Listing    ListingConfig   `yaml:"listing"`
	Detail     DetailConfig    `yaml:"detail"`
	Merge      MergeConfig     `yaml:"merge"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Workers    int             `yaml:"workers"`
}

// RecordKeys names the output keys that carry the four candidate roles.
type RecordKeys struct {
	Identifier string `yaml:"identifier"`
	DetailLink string `yaml:"detail_link"`
	Summary    string `yaml:"summary"`
	Thumbnail  string `yaml:"thumbnail"`
}

type ConsentConfig struct {
	Selector string        `yaml:"selector"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Readiness is the condition a navigated page must reach before it is read.
type Readiness struct {
	Event    string        `yaml:"event"` // networkidle, domcontentloaded, load
	Selector string        `yaml:"selector"`
	Timeout  time.Duration `yaml:"timeout"`
}

type PaginationKind string

const (
	PaginationNone     PaginationKind = "none"
	PaginationScroll   PaginationKind = "scroll"
	PaginationLoadMore PaginationKind = "load_more"
	PaginationEmbedded PaginationKind = "embedded"
)

type PaginationConfig struct {
	Kind PaginationKind `yaml:"kind"`

	// scroll
	Step     int           `yaml:"step"`
	Interval time.Duration `yaml:"interval"`
	MaxTicks int           `yaml:"max_ticks"`

	// load_more
	Button      ButtonConfig  `yaml:"button"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	MaxClicks   int           `yaml:"max_clicks"`
}

// ButtonConfig locates the "load more" control: the first element matching
// Selector whose trimmed, lower-cased text equals Text (any text if empty).
type ButtonConfig struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
}

// BlobConfig locates an embedded JSON payload, either in a script element or
// in a page global.
type BlobConfig struct {
	Script   string `yaml:"script"`
	Global   string `yaml:"global"`
	Required bool   `yaml:"required"`
}

// ContainerConfig describes the object holding the item array inside a blob.
// The search is recursive; depth is not part of the contract.
type ContainerConfig struct {
	Root  string `yaml:"root"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
	Items string `yaml:"items"`
	All   bool   `yaml:"all"`
}

type ListingConfig struct {
	Readiness  Readiness        `yaml:"readiness"`
	Pagination PaginationConfig `yaml:"pagination"`
	Item       string           `yaml:"item"`
	Blob       *BlobConfig      `yaml:"blob"`
	Container  ContainerConfig  `yaml:"container"`
	Fields     []FieldSpec      `yaml:"fields"`
}

type DetailConfig struct {
	Readiness Readiness   `yaml:"readiness"`
	Blob      *BlobConfig `yaml:"blob"`
	Root      string      `yaml:"root"`
	Fields    []FieldSpec `yaml:"fields"`
}

func (d DetailConfig) Enabled() bool {
	return len(d.Fields) > 0
}

// FieldSpec is one declarative field lookup. Selector fields are evaluated
// against the DOM snapshot, Path fields against embedded JSON.
type FieldSpec struct {
	Name     string      `yaml:"name"`
	Selector string      `yaml:"selector"`
	Path     string      `yaml:"path"`
	Attr     string      `yaml:"attr"`
	Contains string      `yaml:"contains"`
	Within   string      `yaml:"within"`
	List     bool        `yaml:"list"`
	Filter   string      `yaml:"filter"`
	Squash   bool        `yaml:"squash"`
	Absolute bool        `yaml:"absolute"`
	Template string      `yaml:"template"`
	Join     []string    `yaml:"join"`
	Fields   []FieldSpec `yaml:"fields"`
}

func (f FieldSpec) IsGroup() bool {
	return len(f.Fields) > 0
}

type MergeConfig struct {
	Authoritative []string `yaml:"authoritative"`
}

type RateLimitConfig struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
	RPS float64       `yaml:"rps"`
}

const (
	defaultListingTimeout = 60 * time.Second
	defaultDetailTimeout  = 30 * time.Second
	defaultConsentTimeout = 5 * time.Second
	defaultScrollStep     = 100
	defaultScrollInterval = 200 * time.Millisecond
	defaultMaxTicks       = 10000
	defaultClickWait      = 15 * time.Second
	defaultMaxClicks      = 500
	maxWorkers            = 16
)

// Validate fills defaults and rejects schemas the pipeline cannot run.
func (s *SiteConfig) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.ListingURL == "" {
		return errors.New("listing_url is required")
	}
	if s.BaseURL == "" {
		s.BaseURL = s.ListingURL
	}
	if s.Output == "" {
		s.Output = s.ID + "_companies.json"
	}

	if s.Keys.Identifier == "" {
		s.Keys.Identifier = "identifier"
	}
	if s.Keys.DetailLink == "" {
		s.Keys.DetailLink = "detailLink"
	}
	if s.Keys.Summary == "" {
		s.Keys.Summary = "summary"
	}
	if s.Keys.Thumbnail == "" {
		s.Keys.Thumbnail = "thumbnail"
	}

	if s.Consent != nil && s.Consent.Timeout <= 0 {
		s.Consent.Timeout = defaultConsentTimeout
	}

	if err := s.validateListing(); err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	if err := s.validateDetail(); err != nil {
		return fmt.Errorf("detail: %w", err)
	}

	if s.RateLimit.Min < 0 || s.RateLimit.Max < 0 {
		return errors.New("rate_limit: negative delay")
	}
	if s.RateLimit.Max == 0 {
		s.RateLimit.Max = s.RateLimit.Min
	}
	if s.RateLimit.Min > s.RateLimit.Max {
		return fmt.Errorf("rate_limit: min %s exceeds max %s", s.RateLimit.Min, s.RateLimit.Max)
	}

	if s.Workers == 0 {
		s.Workers = 1
	}
	if s.Workers < 1 || s.Workers > maxWorkers {
		return fmt.Errorf("workers must be between 1 and %d", maxWorkers)
	}

	return nil
}

func (s *SiteConfig) validateListing() error {
	l := &s.Listing
	defaultReadiness(&l.Readiness, defaultListingTimeout)

	p := &l.Pagination
	if p.Kind == "" {
		if l.Blob != nil {
			p.Kind = PaginationEmbedded
		} else {
			p.Kind = PaginationNone
		}
	}

	switch p.Kind {
	case PaginationNone:
	case PaginationScroll:
		if p.Step <= 0 {
			p.Step = defaultScrollStep
		}
		if p.Interval <= 0 {
			p.Interval = defaultScrollInterval
		}
		if p.MaxTicks <= 0 {
			p.MaxTicks = defaultMaxTicks
		}
	case PaginationLoadMore:
		if p.Button.Selector == "" {
			p.Button.Selector = "button"
		}
		if p.WaitTimeout <= 0 {
			p.WaitTimeout = defaultClickWait
		}
		if p.MaxClicks <= 0 {
			p.MaxClicks = defaultMaxClicks
		}
	case PaginationEmbedded:
		if l.Blob == nil {
			return errors.New("embedded pagination needs a blob")
		}
	default:
		return fmt.Errorf("unknown pagination kind %q", p.Kind)
	}

	if len(l.Fields) == 0 {
		return errors.New("no fields")
	}

	if p.Kind == PaginationEmbedded {
		if err := validateBlob(l.Blob); err != nil {
			return err
		}
		c := l.Container
		if c.Key == "" || c.Value == "" || c.Items == "" {
			return errors.New("container needs key, value and items")
		}
		return validateFields(l.Fields, true, false)
	}

	if l.Item == "" {
		return errors.New("item selector is required")
	}
	return validateFields(l.Fields, false, true)
}

func (s *SiteConfig) validateDetail() error {
	d := &s.Detail
	if !d.Enabled() {
		return nil
	}
	defaultReadiness(&d.Readiness, defaultDetailTimeout)
	if d.Blob != nil {
		if err := validateBlob(d.Blob); err != nil {
			return err
		}
	}
	return validateFields(d.Fields, d.Blob != nil, true)
}

func defaultReadiness(r *Readiness, timeout time.Duration) {
	if r.Event == "" {
		r.Event = "networkidle"
	}
	if r.Timeout <= 0 {
		r.Timeout = timeout
	}
}

func validateBlob(b *BlobConfig) error {
	if (b.Script == "") == (b.Global == "") {
		return errors.New("blob needs exactly one of script or global")
	}
	return nil
}

func validateFields(fields []FieldSpec, allowPath, allowSelector bool) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return errors.New("field without name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		if f.Path != "" && f.Selector != "" {
			return fmt.Errorf("field %q: selector and path are exclusive", f.Name)
		}
		if f.Path != "" && !allowPath {
			return fmt.Errorf("field %q: path needs an embedded blob", f.Name)
		}
		if f.Path == "" && !allowSelector {
			return fmt.Errorf("field %q: path is required for embedded data", f.Name)
		}
		if f.IsGroup() {
			// group members are relative to each matched element
			if err := validateFields(f.Fields, f.Path != "", f.Path == ""); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}
