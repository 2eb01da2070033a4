package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// Current version of each config file.
const (
	CurrentCommonVersion = 1
	CurrentWorkerVersion = 1
	CurrentAPIVersion    = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Worker WorkerConfig
	API    APIConfig
}

// CommonConfig contains configuration shared between the API server and workers.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Retry      Retry      `koanf:"retry"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	OpenAI     OpenAI     `koanf:"openai"`
	Digest     Digest     `koanf:"digest"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
	// Also write logs to stderr.
	Console bool `koanf:"console"`
}

// Retry contains retry configuration for the LLM summarizer.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum retry delay in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
	// Run pending migrations on startup.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// Redis contains Redis connection configuration.
// An empty host puts the cache layer in unavailable mode.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// OpenAI contains configuration for the optional LLM summarizer.
// An empty API key disables it and the pipeline runs on local heuristics.
type OpenAI struct {
	// Base URL for the API
	BaseURL string `koanf:"base_url"`
	// API key for authentication
	APIKey string `koanf:"api_key"`
	// Model used for preview and refine passes
	Model string `koanf:"model"`
	// Maximum concurrent requests
	MaxConcurrent int64 `koanf:"max_concurrent"`
	// Request timeout in milliseconds
	RequestTimeout int `koanf:"request_timeout"`
}

// Digest contains digest engine tuning.
type Digest struct {
	// Default number of highlights per digest.
	MaxItems int `koanf:"max_items"`
	// Digest lifetime in both cache tiers, in seconds.
	TTL int `koanf:"ttl"`
	// Maximum candidates scored per digest.
	CandidateLimit int `koanf:"candidate_limit"`
	// Default window when the user has no last-active timestamp, in hours.
	DefaultWindow int `koanf:"default_window"`
	// Granularity computed window bounds are truncated to, in seconds.
	SliceGranularity int `koanf:"slice_granularity"`
	// Concurrent summarizations per digest.
	SummaryConcurrency int `koanf:"summary_concurrency"`
	// Forced recomputations allowed per user per rate limit window.
	RecomputeLimit int64 `koanf:"recompute_limit"`
	// Rate limit window in seconds.
	RecomputeWindow int `koanf:"recompute_window"`
	// Watchlist cache lifetime in seconds.
	WatchlistTTL int `koanf:"watchlist_ttl"`
	// Persona cache lifetime in seconds.
	PersonaTTL int `koanf:"persona_ttl"`
}

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	// Version of the worker config.
	Version int `koanf:"version"`
	// Number of workers in the pool.
	Count int `koanf:"count"`
	// Poll interval in milliseconds.
	PollInterval int `koanf:"poll_interval"`
	// Delay before a failed job is retried, in milliseconds.
	RetryDelay int `koanf:"retry_delay"`
	// Attempts before a job is recorded as permanently failed.
	MaxAttempts int `koanf:"max_attempts"`
	// Per job type execution deadlines.
	Timeouts JobTimeouts `koanf:"timeouts"`
	// Feed ingestion.
	Ingest Ingest `koanf:"ingest"`
}

// Ingest contains feed ingestion configuration.
type Ingest struct {
	// Interval between feed polls in seconds.
	Interval int `koanf:"interval"`
	// Maximum items taken from a single feed per poll.
	MaxPerFeed int `koanf:"max_per_feed"`
	// Items older than this many hours are skipped.
	MaxAge int `koanf:"max_age"`
	// Fetch timeout in milliseconds.
	Timeout int `koanf:"timeout"`
	// Feeds to poll.
	Feeds []Feed `koanf:"feeds"`
}

// Feed is one RSS or Atom source.
type Feed struct {
	URL string `koanf:"url"`
	// Author recorded on ingested items; defaults to the feed title.
	Name     string   `koanf:"name"`
	Category string   `koanf:"category"`
	Tags     []string `koanf:"tags"`
}

// JobTimeouts configures the execution deadline for each job type in milliseconds.
type JobTimeouts struct {
	DigestGeneration int `koanf:"digest_generation"`
	PingProcessing   int `koanf:"ping_processing"`
	LLMSummarization int `koanf:"llm_summarization"`
	WatchlistUpdate  int `koanf:"watchlist_update"`
}

// APIConfig contains REST server configuration.
type APIConfig struct {
	// Version of the api config.
	Version int `koanf:"version"`
	// Listen host.
	Host string `koanf:"host"`
	// Listen port.
	Port int `koanf:"port"`
	// Read timeout in milliseconds.
	ReadTimeout int `koanf:"read_timeout"`
	// Write timeout in milliseconds.
	WriteTimeout int `koanf:"write_timeout"`
	// Requests per second allowed per client address.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// Burst size of the per-address limiter.
	Burst int `koanf:"burst"`
	// Trust X-Forwarded-For from these proxy networks (CIDR).
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// Millis converts a millisecond config value to a duration.
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Seconds converts a second config value to a duration.
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// LoadConfig loads every config file from the first search path that has it.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadConfigFrom([]string{
		".cherry",
		homeDir + "/.cherry/config",
		"/etc/cherry/config",
		"/app/config",
		"config",
		".",
	})
}

// LoadConfigFrom loads the config files from the given search paths.
func LoadConfigFrom(configPaths []string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string

	for _, configName := range []string{"common", "worker", "api"} {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	config := Default()
	if err := k.Unmarshal("", config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("worker", config.Worker.Version, CurrentWorkerVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("api", config.API.Version, CurrentAPIVersion); err != nil {
		return nil, "", err
	}

	return config, usedConfigPath, nil
}

// Default returns a config populated with the built-in defaults.
// Files loaded on top of it only need to set what differs.
func Default() *Config {
	return &Config{
		Common: CommonConfig{
			Debug: Debug{
				LogLevel:      "info",
				MaxLogsToKeep: 10,
				MaxLogLines:   100000,
			},
			Retry: Retry{
				MaxRetries: 3,
				Delay:      100,
				MaxDelay:   1000,
			},
			PostgreSQL: PostgreSQL{
				Host:         "localhost",
				Port:         5432,
				MaxOpenConns: 20,
				MaxIdleConns: 5,
				MaxLifetime:  30,
				MaxIdleTime:  5,
			},
			OpenAI: OpenAI{
				MaxConcurrent:  4,
				RequestTimeout: 30000,
			},
			Digest: Digest{
				MaxItems:           10,
				TTL:                900,
				CandidateLimit:     100,
				DefaultWindow:      24,
				SliceGranularity:   300,
				SummaryConcurrency: 8,
				RecomputeLimit:     5,
				RecomputeWindow:    900,
				WatchlistTTL:       3600,
				PersonaTTL:         300,
			},
		},
		Worker: WorkerConfig{
			Count:        3,
			PollInterval: 5000,
			RetryDelay:   30000,
			MaxAttempts:  3,
			Timeouts: JobTimeouts{
				DigestGeneration: 30000,
				PingProcessing:   5000,
				LLMSummarization: 10000,
				WatchlistUpdate:  5000,
			},
			Ingest: Ingest{
				Interval:   600,
				MaxPerFeed: 20,
				MaxAge:     72,
				Timeout:    15000,
			},
		},
		API: APIConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:       5000,
			WriteTimeout:      30000,
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf("%w: %s.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, name, current, expected)
	}

	return nil
}
