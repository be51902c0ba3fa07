package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Website   WebsiteConfig   `yaml:"website" mapstructure:"website"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Geo       GeoConfig       `yaml:"geo" mapstructure:"geo"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds LLM API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FetchConfig configures both fetch backends.
type FetchConfig struct {
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BrowserTimeoutSecs int    `yaml:"browser_timeout_secs" mapstructure:"browser_timeout_secs"`
	BrowserWorkers     int    `yaml:"browser_workers" mapstructure:"browser_workers"`
	Headless           bool   `yaml:"headless" mapstructure:"headless"`
	ChromePath         string `yaml:"chrome_path" mapstructure:"chrome_path"`
	RespectRobots      bool   `yaml:"respect_robots" mapstructure:"respect_robots"`
	RobotsAgent        string `yaml:"robots_agent" mapstructure:"robots_agent"`
}

// Timeout returns the direct fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BrowserTimeout returns the per-page browser timeout.
func (c FetchConfig) BrowserTimeout() time.Duration {
	return time.Duration(c.BrowserTimeoutSecs) * time.Second
}

// ExtractConfig configures the LLM extraction service.
type ExtractConfig struct {
	Fallback         bool    `yaml:"fallback" mapstructure:"fallback"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMinMS  int     `yaml:"batch_delay_min_ms" mapstructure:"batch_delay_min_ms"`
	BatchDelayMaxMS  int     `yaml:"batch_delay_max_ms" mapstructure:"batch_delay_max_ms"`
	MaxRetryAttempts int     `yaml:"max_retry_attempts" mapstructure:"max_retry_attempts"`
	RetryDelayMS     int     `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	ChunkSize        int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap     float64 `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	MaxContentChars  int     `yaml:"max_content_chars" mapstructure:"max_content_chars"`
}

// SearchConfig configures the search orchestrator and URL builder.
type SearchConfig struct {
	MaxConcurrent    int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	DelaySecs        float64 `yaml:"delay_secs" mapstructure:"delay_secs"`
	ResultsPerPage   int     `yaml:"results_per_page" mapstructure:"results_per_page"`
	Backend          string  `yaml:"backend" mapstructure:"backend"`
	Method           string  `yaml:"method" mapstructure:"method"`
	MinContentLength int     `yaml:"min_content_length" mapstructure:"min_content_length"`
	Country          string  `yaml:"country" mapstructure:"country"`
	Language         string  `yaml:"language" mapstructure:"language"`
	PresetsFile      string  `yaml:"presets_file" mapstructure:"presets_file"`
}

// WebsiteConfig configures the website orchestrator.
type WebsiteConfig struct {
	MaxConcurrent    int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RequestDelayMS   int    `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	Backend          string `yaml:"backend" mapstructure:"backend"`
	Method           string `yaml:"method" mapstructure:"method"`
	MinContentLength int    `yaml:"min_content_length" mapstructure:"min_content_length"`
}

// JobsConfig configures the worker pool and job leases.
type JobsConfig struct {
	Workers               int `yaml:"workers" mapstructure:"workers"`
	QueueSize             int `yaml:"queue_size" mapstructure:"queue_size"`
	HeartbeatIntervalSecs int `yaml:"heartbeat_interval_secs" mapstructure:"heartbeat_interval_secs"`
	LeaseSecs             int `yaml:"lease_secs" mapstructure:"lease_secs"`
	SweepIntervalSecs     int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// ArtifactsConfig configures debug and output file dumps.
type ArtifactsConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	DebugDir   string `yaml:"debug_dir" mapstructure:"debug_dir"`
	OutputDir  string `yaml:"output_dir" mapstructure:"output_dir"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// GeoConfig bounds the target region for extracted coordinates.
type GeoConfig struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	MinLat  float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat  float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLng  float64 `yaml:"min_lng" mapstructure:"min_lng"`
	MaxLng  float64 `yaml:"max_lng" mapstructure:"max_lng"`
}

// ExportConfig configures business exports.
type ExportConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	FTPURL     string `yaml:"ftp_url" mapstructure:"ftp_url"`
	FTPTimeout int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "listings.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.browser_timeout_secs", 90)
	v.SetDefault("fetch.browser_workers", 3)
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.robots_agent", "listing-scraper")
	v.SetDefault("extract.fallback", true)
	v.SetDefault("extract.batch_size", 3)
	v.SetDefault("extract.batch_delay_min_ms", 500)
	v.SetDefault("extract.batch_delay_max_ms", 1500)
	v.SetDefault("extract.max_retry_attempts", 2)
	v.SetDefault("extract.retry_delay_ms", 1000)
	v.SetDefault("extract.chunk_size", 16000)
	v.SetDefault("extract.chunk_overlap", 0.1)
	v.SetDefault("extract.max_content_chars", 120000)
	v.SetDefault("search.max_concurrent", 3)
	v.SetDefault("search.delay_secs", 2.0)
	v.SetDefault("search.results_per_page", 50)
	v.SetDefault("search.backend", "browser")
	v.SetDefault("search.method", "assisted")
	v.SetDefault("search.min_content_length", 30000)
	v.SetDefault("search.country", "DO")
	v.SetDefault("search.language", "es")
	v.SetDefault("website.max_concurrent", 5)
	v.SetDefault("website.request_delay_ms", 1000)
	v.SetDefault("website.backend", "direct")
	v.SetDefault("website.method", "direct")
	v.SetDefault("website.min_content_length", 20000)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.heartbeat_interval_secs", 10)
	v.SetDefault("jobs.lease_secs", 120)
	v.SetDefault("jobs.sweep_interval_secs", 30)
	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.debug_dir", "debug_files")
	v.SetDefault("artifacts.output_dir", "output")
	v.SetDefault("artifacts.max_backups", 10)
	v.SetDefault("geo.enabled", true)
	v.SetDefault("geo.min_lat", 17.36)
	v.SetDefault("geo.max_lat", 19.98)
	v.SetDefault("geo.min_lng", -72.01)
	v.SetDefault("geo.max_lng", -68.32)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.ftp_timeout_secs", 30)
}

// InitLogger builds the process logger. Components receive it explicitly;
// it is also installed as the zap global for the CLI lifecycle hooks.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}

// Validate checks the settings required by a run mode: "serve", "run",
// "store" (migrate, jobs, businesses, ingest, export).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	switch mode {
	case "store":
	case "serve", "run":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Extract.BatchSize < 3 || c.Extract.BatchSize > 5 {
			errs = append(errs, "extract.batch_size must be between 3 and 5")
		}
		if c.Extract.ChunkOverlap < 0 || c.Extract.ChunkOverlap >= 0.5 {
			errs = append(errs, "extract.chunk_overlap must be in [0, 0.5)")
		}
		if c.Website.MaxConcurrent < 1 || c.Website.MaxConcurrent > 50 {
			errs = append(errs, "website.max_concurrent must be between 1 and 50")
		}
		if c.Search.MaxConcurrent < 1 || c.Search.MaxConcurrent > 10 {
			errs = append(errs, "search.max_concurrent must be between 1 and 10")
		}
		if c.Jobs.Workers < 1 {
			errs = append(errs, "jobs.workers must be >= 1")
		}
		for name, v := range map[string]string{"search.backend": c.Search.Backend, "website.backend": c.Website.Backend} {
			if v != "direct" && v != "browser" {
				errs = append(errs, fmt.Sprintf("%s %q must be direct or browser", name, v))
			}
		}
		for name, v := range map[string]string{"search.method": c.Search.Method, "website.method": c.Website.Method} {
			if v != "direct" && v != "assisted" {
				errs = append(errs, fmt.Sprintf("%s %q must be direct or assisted", name, v))
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
