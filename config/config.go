package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Browser   BrowserConfig
	Postgres  PostgresConfig
	S3        S3Config
	Scheduler SchedulerConfig
	SitesDir  string
	OutputDir string
	DBPath    string
	LogFile   string
	LogMaxB   int64
	LogLevel  string
	Metrics   string
	Sites     map[string]*SiteConfig
}

type BrowserConfig struct {
	Headless   bool
	ProxyURL   string
	UserAgent  string
	NavTimeout time.Duration
}

type PostgresConfig struct {
	DBURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
}

// Enabled reports whether enough settings are present to upload snapshots.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.Region != ""
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Browser: BrowserConfig{
			Headless:   getEnv("BROWSER_HEADLESS", "true") != "false",
			ProxyURL:   os.Getenv("PROXY_URL"),
			UserAgent:  os.Getenv("USER_AGENT"),
			NavTimeout: getEnvDuration("NAV_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          os.Getenv("S3_REGION"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Prefix:          getEnv("S3_PREFIX", "portfolio"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Timeout:         getEnvDuration("S3_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		SitesDir:  getEnv("SITES_DIR", filepath.Join("config", "sites")),
		OutputDir: getEnv("OUTPUT_DIR", "."),
		DBPath:    getEnv("DB_PATH", "scraper.db"),
		LogFile:   getEnv("LOG_FILE", "scraper.log"),
		LogMaxB:   int64(getEnvInt("LOG_MAX_BYTES", 2*1024*1024)),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Metrics:   os.Getenv("METRICS_ADDR"),
	}

	cfg.Scheduler.Interval = getEnvDuration("SCRAPE_INTERVAL", 0)

	sites, err := LoadSites(cfg.SitesDir)
	if err != nil {
		return nil, err
	}
	cfg.Sites = sites

	return cfg, nil
}

// SiteIDs returns the configured site ids in a stable order.
func (c *Config) SiteIDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for id := range c.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadSites reads every *.yaml file in dir into a validated SiteConfig.
// A missing directory yields no sites.
func LoadSites(dir string) (map[string]*SiteConfig, error) {
	sites := make(map[string]*SiteConfig)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return sites, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		site, err := LoadSite(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		sites[site.ID] = site
	}

	return sites, nil
}

func LoadSite(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSite(data, path)
}

// ParseSite decodes and validates one site document. name is only used in errors.
func ParseSite(data []byte, name string) (*SiteConfig, error) {
	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, &SiteError{File: name, Err: err}
	}
	if err := site.Validate(); err != nil {
		return nil, &SiteError{File: name, Err: err}
	}
	return &site, nil
}

type SiteError struct {
	File string
	Err  error
}

func (e *SiteError) Error() string {
	return "site config " + e.File + ": " + e.Err.Error()
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
