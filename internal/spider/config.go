package spider

import (
	"fmt"
	"net/url"
	"time"
)

const (
	defaultParseRetryInterval = 500 * time.Millisecond
	defaultShutdownGrace      = 5 * time.Second
)

// Config holds the settings for one pipeline run. It is decoupled from Viper
// so the pipeline can be built and tested without the config layer.
type Config struct {
	RunID    string
	BaseURL  string
	StartURL string
	// Concurrency is the number of crawl workers and, separately, parse workers.
	Concurrency int
	// Timeout bounds the crawl stage only.
	Timeout time.Duration
	// Delay is the pause each worker takes after every iteration.
	Delay time.Duration
	// ParseRetries is the number of idle waits a parse worker tolerates
	// before the parsing gate opens.
	ParseRetries       int
	ParseRetryInterval time.Duration
	// MaxCrawl and MaxParse are lifetime admission caps; zero is unbounded.
	MaxCrawl      int
	MaxParse      int
	ShutdownGrace time.Duration
}

// withDefaults fills optional fields.
func (c Config) withDefaults() Config {
	if c.StartURL == "" {
		c.StartURL = c.BaseURL
	}
	if c.ParseRetryInterval <= 0 {
		c.ParseRetryInterval = defaultParseRetryInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	return c
}

// Validate checks for configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base url must be set", ErrInvalidConfig)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return fmt.Errorf("%w: base url %q must be absolute", ErrInvalidConfig, c.BaseURL)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be > 0", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0", ErrInvalidConfig)
	}
	if c.ParseRetries < 0 {
		return fmt.Errorf("%w: parse retries must be >= 0", ErrInvalidConfig)
	}
	if c.MaxCrawl < 0 {
		return fmt.Errorf("%w: max crawl must be >= 0", ErrInvalidConfig)
	}
	if c.MaxParse < 0 {
		return fmt.Errorf("%w: max parse must be >= 0", ErrInvalidConfig)
	}
	return nil
}
