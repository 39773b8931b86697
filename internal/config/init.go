package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitializeViper initializes Viper configuration from environment variables
// and config files. This must be called before LoadConfig(). cfgFile, when
// non-empty, names an explicit config file; debug forces debug logging.
func InitializeViper(cfgFile string, debug bool) error {
	loadEnvFile()
	setupViper(cfgFile)
	setDefaults()
	readConfigFile()

	if err := bindEnvironmentVariables(); err != nil {
		return fmt.Errorf("failed to bind environment variables: %w", err)
	}

	if debug {
		viper.Set("app.debug", true)
	}
	setupDevelopmentLogging()
	return nil
}

// LoadConfig unmarshals the merged Viper state into a validated Config.
func LoadConfig() (*Config, error) {
	cfg := New()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithSeeds is LoadConfig with the configured seeds replaced by
// the given ones when non-empty. Validation runs after the replacement, so
// command-line seeds satisfy the non-empty seeds requirement.
func LoadConfigWithSeeds(seeds []string) (*Config, error) {
	cfg := New()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(seeds) > 0 {
		cfg.Crawler.Seeds = seeds
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads .env file (ignores error if file doesn't exist).
func loadEnvFile() {
	_ = godotenv.Load()
}

// setupViper configures Viper for environment variable and config file reading.
func setupViper(cfgFile string) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
}

// readConfigFile reads config file (ignores error if file doesn't exist).
func readConfigFile() {
	_ = viper.ReadInConfig()
}

// setDefaults sets default configuration values
func setDefaults() {
	// Logger defaults - production safe
	viper.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"encoding":     "json",
		"output_paths": []string{"stdout"},
		"enable_color": false,
	})

	// Crawler defaults - production safe
	viper.SetDefault("crawler", map[string]any{
		"traversal_mode":                 DefaultTraversalMode,
		"max_depth":                      DefaultMaxDepth,
		"max_depth_dfs":                  DefaultMaxDepthDFS,
		"max_pages_per_domain":           0,
		"max_pages_total":                0,
		"wall_clock_timeout":             "0s",
		"concurrent_requests":            DefaultConcurrency,
		"concurrent_requests_per_domain": DefaultDomainConcurrency,
		"delay_between_requests":         "1s",
		"jitter_min":                     "0s",
		"jitter_max":                     "250ms",
		"max_retry_attempts":             DefaultMaxRetries,
		"redirect_hop_limit":             DefaultRedirectHopLimit,
		"request_timeout":                "30s",
		"user_agent":                     DefaultUserAgent,
		"robots_cache_ttl":               "24h",
		"max_body_size":                  DefaultMaxBodySize,
		"count_not_modified":             true,
	})

	// Storage defaults
	viper.SetDefault("storage", map[string]any{
		"enabled":          true,
		"output_dir":       DefaultOutputDir,
		"max_file_size_mb": 0,
	})
}

// bindEnvironmentVariables binds environment variables to config keys.
func bindEnvironmentVariables() error {
	bindings := map[string][]string{
		"logger.level":                   {"LOG_LEVEL"},
		"logger.encoding":                {"LOG_FORMAT"},
		"app.debug":                      {"APP_DEBUG"},
		"app.environment":                {"APP_ENV"},
		"crawler.traversal_mode":         {"CRAWLER_TRAVERSAL_MODE"},
		"crawler.max_depth":              {"CRAWLER_MAX_DEPTH"},
		"crawler.max_pages_per_domain":   {"CRAWLER_MAX_PAGES_PER_DOMAIN"},
		"crawler.max_pages_total":        {"CRAWLER_MAX_PAGES_TOTAL"},
		"crawler.wall_clock_timeout":     {"CRAWLER_WALL_CLOCK_TIMEOUT"},
		"crawler.concurrent_requests":    {"CRAWLER_CONCURRENT_REQUESTS"},
		"crawler.delay_between_requests": {"CRAWLER_DELAY_BETWEEN_REQUESTS"},
		"crawler.allowed_domains":        {"CRAWLER_ALLOWED_DOMAINS"},
		"crawler.user_agent":             {"CRAWLER_USER_AGENT"},
		"crawler.seeds":                  {"CRAWLER_SEEDS"},
		"storage.output_dir":             {"CRAWLER_OUTPUT_DIR"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := viper.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", envs[0], err)
		}
	}

	return nil
}

// setupDevelopmentLogging configures logging settings based on environment
// variables: APP_DEBUG controls the level, APP_ENV the formatting.
func setupDevelopmentLogging() {
	if viper.GetBool("app.debug") {
		viper.Set("logger.level", "debug")
	}

	if viper.GetString("app.environment") == "development" {
		viper.Set("logger.development", true)
		viper.Set("logger.enable_color", true)
		viper.Set("logger.encoding", "console")
	}
}
