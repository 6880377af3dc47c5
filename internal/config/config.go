// Package config loads and validates sitespider configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitespider/internal/extract"
	"github.com/JakeFAU/sitespider/internal/links"
	"github.com/JakeFAU/sitespider/internal/logging"
	"github.com/JakeFAU/sitespider/internal/output"
	"github.com/JakeFAU/sitespider/internal/spider"
)

// EnvPrefix namespaces environment overrides, e.g. SPIDER_SITE_BASE_URL.
const EnvPrefix = "SPIDER"

// Output stores.
const (
	StoreLocal  = "local"
	StoreGCS    = "gcs"
	StoreMemory = "memory"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	RunID    string         `mapstructure:"run_id"`
	Site     SiteConfig     `mapstructure:"site"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Links    LinksConfig    `mapstructure:"links"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Output   OutputConfig   `mapstructure:"output"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  logging.Config `mapstructure:"logging"`
}

// SiteConfig names the site being crawled.
type SiteConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	StartURL string `mapstructure:"start_url"`
}

// CrawlConfig governs the worker pools and their limits.
type CrawlConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Delay              time.Duration `mapstructure:"delay"`
	MaxCrawl           int           `mapstructure:"max_crawl"`
	MaxParse           int           `mapstructure:"max_parse"`
	ParseRetries       int           `mapstructure:"parse_retries"`
	ParseRetryInterval time.Duration `mapstructure:"parse_retry_interval"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
}

// LinksConfig controls scope filtering and capture.
type LinksConfig struct {
	Exclude     []string `mapstructure:"exclude"`
	Capture     string   `mapstructure:"capture"`
	CaptureKind string   `mapstructure:"capture_kind"`
}

// HTTPConfig configures the colly transport.
type HTTPConfig struct {
	UserAgent     string            `mapstructure:"user_agent"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RespectRobots bool              `mapstructure:"respect_robots"`
	MaxBodySize   int               `mapstructure:"max_body_size"`
}

// ExtractConfig selects and configures the extraction strategy.
type ExtractConfig struct {
	Strategy     string            `mapstructure:"strategy"`
	Fields       map[string]string `mapstructure:"fields"`
	LinkSelector string            `mapstructure:"link_selector"`
}

// OutputConfig sets where the record file goes.
type OutputConfig struct {
	Format string `mapstructure:"format"`
	Store  string `mapstructure:"store"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig enables the record table when DSN is set.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig enables run notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"base-url":       "site.base_url",
	"start-url":      "site.start_url",
	"concurrency":    "crawl.concurrency",
	"timeout":        "crawl.timeout",
	"delay":          "crawl.delay",
	"max-crawl":      "crawl.max_crawl",
	"max-parse":      "crawl.max_parse",
	"parse-retries":  "crawl.parse_retries",
	"capture":        "links.capture",
	"capture-kind":   "links.capture_kind",
	"exclude":        "links.exclude",
	"user-agent":     "http.user_agent",
	"respect-robots": "http.respect_robots",
	"strategy":       "extract.strategy",
	"link-selector":  "extract.link_selector",
	"format":         "output.format",
	"store":          "output.store",
	"output-dir":     "output.dir",
	"bucket":         "output.bucket",
	"metrics-addr":   "metrics.addr",
	"verbose":        "logging.verbose",
	"development":    "logging.development",
	"run-id":         "run_id",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in FlagKeys that were set on flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run_id", "")
	v.SetDefault("site.base_url", "")
	v.SetDefault("site.start_url", "")
	v.SetDefault("crawl.concurrency", 2)
	v.SetDefault("crawl.timeout", 30*time.Second)
	v.SetDefault("crawl.delay", time.Duration(0))
	v.SetDefault("crawl.max_crawl", 0)
	v.SetDefault("crawl.max_parse", 0)
	v.SetDefault("crawl.parse_retries", 20)
	v.SetDefault("crawl.parse_retry_interval", 500*time.Millisecond)
	v.SetDefault("crawl.shutdown_grace", 5*time.Second)
	v.SetDefault("links.exclude", []string{})
	v.SetDefault("links.capture", "")
	v.SetDefault("links.capture_kind", links.MatchSubstring)
	v.SetDefault("http.user_agent", "sitespider/0.1")
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_body_size", 0)
	v.SetDefault("extract.strategy", extract.StrategyLinks)
	v.SetDefault("extract.link_selector", "a[href]")
	v.SetDefault("output.format", string(output.FormatJSON))
	v.SetDefault("output.store", StoreLocal)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "spider_records")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.ensure_schema", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return errors.New("site.base_url must be set")
	}
	if err := requireAbsolute("site.base_url", c.Site.BaseURL); err != nil {
		return err
	}
	if c.Site.StartURL != "" {
		if err := requireAbsolute("site.start_url", c.Site.StartURL); err != nil {
			return err
		}
	}
	if c.Crawl.Concurrency <= 0 {
		return errors.New("crawl.concurrency must be > 0")
	}
	if c.Crawl.Timeout <= 0 {
		return errors.New("crawl.timeout must be > 0")
	}
	if c.Crawl.Delay < 0 {
		return errors.New("crawl.delay must be >= 0")
	}
	if c.Crawl.MaxCrawl < 0 || c.Crawl.MaxParse < 0 {
		return errors.New("crawl.max_crawl and crawl.max_parse must be >= 0")
	}
	if c.Crawl.ParseRetries < 0 {
		return errors.New("crawl.parse_retries must be >= 0")
	}
	if c.Links.Capture == "" {
		return errors.New("links.capture must be set")
	}
	if _, err := links.NewMatcher(c.Links.CaptureKind, c.Links.Capture); err != nil {
		return fmt.Errorf("links.capture: %w", err)
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	switch c.Output.Store {
	case StoreLocal:
		if strings.TrimSpace(c.Output.Dir) == "" {
			return errors.New("output.dir must be set for the local store")
		}
	case StoreGCS:
		if c.Output.Bucket == "" {
			return errors.New("output.bucket must be set for the gcs store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("output.store %q must be one of local, gcs, memory", c.Output.Store)
	}
	if err := c.validateExtract(); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

func (c Config) validateExtract() error {
	switch strings.ToLower(c.Extract.Strategy) {
	case extract.StrategySelectors:
		if len(c.Extract.Fields) == 0 {
			return errors.New("extract.fields must be set for the selectors strategy")
		}
	case extract.StrategyLinks:
		if strings.TrimSpace(c.Extract.LinkSelector) == "" {
			return errors.New("extract.link_selector must be set for the links strategy")
		}
	default:
		return fmt.Errorf("extract.strategy %q must be one of %s",
			c.Extract.Strategy, strings.Join(extract.Strategies(), ", "))
	}
	return nil
}

func requireAbsolute(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute url", key, raw)
	}
	return nil
}

// Pipeline converts the crawl settings into a spider.Config.
func (c Config) Pipeline(runID string) spider.Config {
	return spider.Config{
		RunID:              runID,
		BaseURL:            c.Site.BaseURL,
		StartURL:           c.Site.StartURL,
		Concurrency:        c.Crawl.Concurrency,
		Timeout:            c.Crawl.Timeout,
		Delay:              c.Crawl.Delay,
		ParseRetries:       c.Crawl.ParseRetries,
		ParseRetryInterval: c.Crawl.ParseRetryInterval,
		MaxCrawl:           c.Crawl.MaxCrawl,
		MaxParse:           c.Crawl.MaxParse,
		ShutdownGrace:      c.Crawl.ShutdownGrace,
	}
}

// RequestHeaders returns the configured extra headers.
func (c Config) RequestHeaders() http.Header {
	if len(c.HTTP.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		h.Set(k, v)
	}
	return h
}

// Extraction converts the extraction settings for extract.New.
func (c Config) Extraction() extract.Config {
	return extract.Config{
		Fields:       c.Extract.Fields,
		LinkSelector: c.Extract.LinkSelector,
	}
}
