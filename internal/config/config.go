// Package config provides configuration management for the crawler.
// It handles loading, validation, and access to crawl settings such as
// traversal mode, depth and page budgets, politeness pacing, and storage.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/frontier"
	"github.com/jonesrussell/sitecrawl/internal/logger"
)

// Default configuration values
const (
	DefaultTraversalMode     = "bfs"
	DefaultMaxDepth          = 3
	DefaultMaxDepthDFS       = 10
	DefaultConcurrency       = 5
	DefaultDomainConcurrency = 2
	DefaultDelay             = 1 * time.Second
	DefaultJitterMax         = 250 * time.Millisecond
	DefaultRequestTimeout    = 30 * time.Second
	DefaultUserAgent         = "sitecrawl/1.0"
	DefaultMaxRetries        = 3
	DefaultRedirectHopLimit  = 5
	DefaultRobotsCacheTTL    = 24 * time.Hour
	DefaultMaxBodySize       = 10 * 1024 * 1024 // 10MB
	DefaultOutputDir         = "crawl_output"
)

// CrawlerConfig holds the crawl behavior settings.
type CrawlerConfig struct {
	// TraversalMode selects BFS or DFS frontier ordering.
	TraversalMode string `mapstructure:"traversal_mode" yaml:"traversal_mode"`
	// MaxDepth is the BFS depth cap.
	MaxDepth uint `mapstructure:"max_depth" yaml:"max_depth"`
	// MaxDepthDFS is the depth cap used when traversal_mode is dfs.
	MaxDepthDFS uint `mapstructure:"max_depth_dfs" yaml:"max_depth_dfs"`
	// MaxPagesPerDomain caps pages per registered domain (0 = no cap).
	MaxPagesPerDomain int `mapstructure:"max_pages_per_domain" yaml:"max_pages_per_domain"`
	// MaxPagesTotal caps pages across the whole session (0 = no cap).
	MaxPagesTotal int64 `mapstructure:"max_pages_total" yaml:"max_pages_total"`
	// WallClockTimeout bounds the whole session (0 = no deadline).
	WallClockTimeout time.Duration `mapstructure:"wall_clock_timeout" yaml:"wall_clock_timeout"`
	// ConcurrentRequests is the global in-flight fetch cap.
	ConcurrentRequests int `mapstructure:"concurrent_requests" yaml:"concurrent_requests"`
	// ConcurrentRequestsPerDomain is the per-domain in-flight cap.
	ConcurrentRequestsPerDomain int `mapstructure:"concurrent_requests_per_domain" yaml:"concurrent_requests_per_domain"`
	// DelayBetweenRequests is the per-domain pacing interval.
	DelayBetweenRequests time.Duration `mapstructure:"delay_between_requests" yaml:"delay_between_requests"`
	// JitterMin and JitterMax bound the random pacing jitter.
	JitterMin time.Duration `mapstructure:"jitter_min" yaml:"jitter_min"`
	JitterMax time.Duration `mapstructure:"jitter_max" yaml:"jitter_max"`
	// MaxRetryAttempts is the total number of fetch attempts per URL.
	MaxRetryAttempts int `mapstructure:"max_retry_attempts" yaml:"max_retry_attempts"`
	// RedirectHopLimit is the redirect budget per URL.
	RedirectHopLimit int `mapstructure:"redirect_hop_limit" yaml:"redirect_hop_limit"`
	// AllowedDomains is the crawl allowlist. Must be non-empty.
	AllowedDomains []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	// ExcludeURLPatterns are regexes that refuse matching URLs outright.
	ExcludeURLPatterns []string `mapstructure:"exclude_url_patterns" yaml:"exclude_url_patterns"`
	// TrackingParams are query parameters stripped during canonicalization.
	// Empty means the built-in defaults.
	TrackingParams []string `mapstructure:"tracking_params" yaml:"tracking_params"`
	// OrderSensitivePatterns are regexes whose match disables query sorting.
	OrderSensitivePatterns []string `mapstructure:"order_sensitive_patterns" yaml:"order_sensitive_patterns"`
	// RequestTimeout bounds each fetch attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// UserAgent is sent on every request, robots.txt included.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// RobotsCacheTTL is how long a fetched robots.txt stays fresh.
	RobotsCacheTTL time.Duration `mapstructure:"robots_cache_ttl" yaml:"robots_cache_ttl"`
	// MaxBodySize caps response body reads in bytes.
	MaxBodySize int64 `mapstructure:"max_body_size" yaml:"max_body_size"`
	// CountNotModified charges 304 revalidations against the page budget.
	CountNotModified bool `mapstructure:"count_not_modified" yaml:"count_not_modified"`
	// Seeds are the starting URLs.
	Seeds []string `mapstructure:"seeds" yaml:"seeds"`
}

// StorageConfig holds the file-store settings.
type StorageConfig struct {
	// Enabled turns body persistence on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// OutputDir is the root directory for stored bodies and the manifest.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// ManifestFile overrides the manifest path (default: inside OutputDir).
	ManifestFile string `mapstructure:"manifest_file" yaml:"manifest_file"`
	// MaxFileSizeMB caps individual stored files (0 = no cap).
	MaxFileSizeMB int `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// Config is the root configuration.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler" yaml:"crawler"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logger  logger.Config `mapstructure:"logger" yaml:"logger"`
}

// Mode returns the parsed traversal mode.
func (c *CrawlerConfig) Mode() (frontier.Mode, error) {
	return frontier.ParseMode(c.TraversalMode)
}

// DepthCap returns the depth cap for the configured traversal mode.
func (c *CrawlerConfig) DepthCap() uint {
	if c.TraversalMode == "dfs" {
		return c.MaxDepthDFS
	}

	return c.MaxDepth
}

// Validate validates the crawler configuration. An empty allowlist is a
// configuration error: it would silently deny every URL.
func (c *CrawlerConfig) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if len(c.AllowedDomains) == 0 {
		return errors.New("allowed_domains must not be empty")
	}
	if len(c.Seeds) == 0 {
		return errors.New("at least one seed URL is required")
	}
	if c.ConcurrentRequests < 1 {
		return errors.New("concurrent_requests must be positive")
	}
	if c.ConcurrentRequestsPerDomain < 1 {
		return errors.New("concurrent_requests_per_domain must be positive")
	}
	if c.DelayBetweenRequests < 0 {
		return errors.New("delay_between_requests must be non-negative")
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return errors.New("jitter bounds must satisfy 0 <= jitter_min <= jitter_max")
	}
	if c.MaxRetryAttempts < 1 {
		return errors.New("max_retry_attempts must be at least 1")
	}
	if c.RedirectHopLimit < 0 {
		return errors.New("redirect_hop_limit must be non-negative")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must be non-negative")
	}
	if c.MaxBodySize < 0 {
		return errors.New("max_body_size must be non-negative")
	}
	if c.MaxPagesPerDomain < 0 || c.MaxPagesTotal < 0 {
		return errors.New("page budgets must be non-negative")
	}
	return nil
}

// Validate validates the root configuration.
func (c *Config) Validate() error {
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}

	if c.Storage.Enabled && c.Storage.OutputDir == "" {
		return errors.New("storage: output_dir must be set when storage is enabled")
	}

	return nil
}

// New creates a configuration with production-safe defaults.
func New() *Config {
	return &Config{
		Crawler: CrawlerConfig{
			TraversalMode:               DefaultTraversalMode,
			MaxDepth:                    DefaultMaxDepth,
			MaxDepthDFS:                 DefaultMaxDepthDFS,
			ConcurrentRequests:          DefaultConcurrency,
			ConcurrentRequestsPerDomain: DefaultDomainConcurrency,
			DelayBetweenRequests:        DefaultDelay,
			JitterMax:                   DefaultJitterMax,
			MaxRetryAttempts:            DefaultMaxRetries,
			RedirectHopLimit:            DefaultRedirectHopLimit,
			RequestTimeout:              DefaultRequestTimeout,
			UserAgent:                   DefaultUserAgent,
			RobotsCacheTTL:              DefaultRobotsCacheTTL,
			MaxBodySize:                 DefaultMaxBodySize,
			CountNotModified:            true,
		},
		Storage: StorageConfig{
			Enabled:   true,
			OutputDir: DefaultOutputDir,
		},
		Logger: logger.Config{
			Level:    logger.InfoLevel,
			Encoding: "json",
		},
	}
}
