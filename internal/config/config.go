// Package config loads and validates enricher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-enricher/internal/imagerank"
	"github.com/JakeFAU/listing-enricher/internal/pipeline"
	"github.com/JakeFAU/listing-enricher/internal/sheets"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	OCR         OCRConfig         `mapstructure:"ocr"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	DB          DBConfig          `mapstructure:"db"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// QueueConfig points at the spreadsheet-backed queue and sink.
type QueueConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Mode           string `mapstructure:"mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	WriteAttempts  int    `mapstructure:"write_attempts"`
}

// MarketplaceConfig selects the storefront products are loaded from.
type MarketplaceConfig struct {
	Domain string `mapstructure:"domain"`
}

// BrowserConfig configures the headless browser and the page handshake.
type BrowserConfig struct {
	Headless             bool   `mapstructure:"headless"`
	ExecPath             string `mapstructure:"exec_path"`
	UserAgent            string `mapstructure:"user_agent"`
	MaxTabs              int    `mapstructure:"max_tabs"`
	NavTimeoutSeconds    int    `mapstructure:"nav_timeout_seconds"`
	ScrapeTimeoutSeconds int    `mapstructure:"scrape_timeout_seconds"`
	AgentRetries         int    `mapstructure:"agent_retries"`
	AgentRetryDelayMs    int    `mapstructure:"agent_retry_delay_ms"`
	SettleDelayMs        int    `mapstructure:"settle_delay_ms"`
}

// PipelineConfig bounds per-item processing.
type PipelineConfig struct {
	WatchdogSeconds int  `mapstructure:"watchdog_seconds"`
	PauseMinMs      int  `mapstructure:"pause_min_ms"`
	PauseMaxMs      int  `mapstructure:"pause_max_ms"`
	MaxImages       int  `mapstructure:"max_images"`
	DebugSections   bool `mapstructure:"debug_sections"`
}

// OCRConfig configures text recognition providers.
type OCRConfig struct {
	APIKey              string   `mapstructure:"api_key"`
	FallbackKeys        []string `mapstructure:"fallback_keys"`
	GetEndpoint         string   `mapstructure:"get_endpoint"`
	PostEndpoint        string   `mapstructure:"post_endpoint"`
	GetTimeoutSeconds   int      `mapstructure:"get_timeout_seconds"`
	PostTimeoutSeconds  int      `mapstructure:"post_timeout_seconds"`
	KeyBackoffMs        int      `mapstructure:"key_backoff_ms"`
	Concurrency         int      `mapstructure:"concurrency"`
	TaskTimeoutSeconds  int      `mapstructure:"task_timeout_seconds"`
	RequestsPerSecond   float64  `mapstructure:"requests_per_second"`
	ExtractServiceURL   string   `mapstructure:"extract_service_url"`
	TesseractPath       string   `mapstructure:"tesseract_path"`
	TesseractTimeoutSec int      `mapstructure:"tesseract_timeout_seconds"`
}

// CacheConfig configures the OCR text cache.
type CacheConfig struct {
	RedisAddr  string `mapstructure:"redis_addr"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// StorageConfig sets where item archives are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run history database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig names the service in traces and selects the trace exporter.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	ProjectID   string  `mapstructure:"project_id"`
	Region      string  `mapstructure:"region"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("queue.endpoint", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("queue.mode", string(sheets.ModeNew))
	v.SetDefault("queue.timeout_seconds", 30)
	v.SetDefault("queue.write_attempts", 3)
	v.SetDefault("marketplace.domain", "amazon.com")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.max_tabs", 1)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.scrape_timeout_seconds", 40)
	v.SetDefault("browser.agent_retries", 16)
	v.SetDefault("browser.agent_retry_delay_ms", 450)
	v.SetDefault("browser.settle_delay_ms", 1200)
	v.SetDefault("pipeline.watchdog_seconds", 90)
	v.SetDefault("pipeline.pause_min_ms", 400)
	v.SetDefault("pipeline.pause_max_ms", 800)
	v.SetDefault("pipeline.max_images", 4)
	v.SetDefault("pipeline.debug_sections", false)
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.fallback_keys", []string{})
	v.SetDefault("ocr.extract_service_url", "")
	v.SetDefault("ocr.tesseract_path", "")
	v.SetDefault("ocr.get_endpoint", "https://api.ocr.space/parse/imageurl")
	v.SetDefault("ocr.post_endpoint", "https://api.ocr.space/parse/image")
	v.SetDefault("ocr.get_timeout_seconds", 15)
	v.SetDefault("ocr.post_timeout_seconds", 25)
	v.SetDefault("ocr.key_backoff_ms", 300)
	v.SetDefault("ocr.concurrency", 3)
	v.SetDefault("ocr.task_timeout_seconds", 18)
	v.SetDefault("ocr.requests_per_second", 2.0)
	v.SetDefault("ocr.tesseract_timeout_seconds", 20)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl_minutes", 24*60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "archive")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table_prefix", "enricher")
	v.SetDefault("telemetry.service_name", "listing-enricher")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.region", "")
}

// Validate enforces required values and reasonable limits.
// A missing queue endpoint is reported by the run itself, not here.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch sheets.Mode(c.Queue.Mode) {
	case sheets.ModeNew, sheets.ModeAll:
	default:
		return fmt.Errorf("queue.mode must be %q or %q", sheets.ModeNew, sheets.ModeAll)
	}
	if c.Queue.WriteAttempts <= 0 {
		return fmt.Errorf("queue.write_attempts must be > 0")
	}
	if c.Browser.MaxTabs <= 0 {
		return fmt.Errorf("browser.max_tabs must be > 0")
	}
	if c.Browser.ScrapeTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.scrape_timeout_seconds must be > 0")
	}
	if c.Browser.AgentRetries <= 0 {
		return fmt.Errorf("browser.agent_retries must be > 0")
	}
	if c.Pipeline.WatchdogSeconds <= 0 {
		return fmt.Errorf("pipeline.watchdog_seconds must be > 0")
	}
	if c.Pipeline.PauseMinMs < 0 || c.Pipeline.PauseMaxMs < c.Pipeline.PauseMinMs {
		return fmt.Errorf("pipeline.pause_max_ms must be >= pipeline.pause_min_ms >= 0")
	}
	if c.Pipeline.MaxImages <= 0 || c.Pipeline.MaxImages > imagerank.DefaultMax {
		return fmt.Errorf("pipeline.max_images must be within [1, %d]", imagerank.DefaultMax)
	}
	if c.OCR.Concurrency <= 0 {
		return fmt.Errorf("ocr.concurrency must be > 0")
	}
	if c.OCR.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("ocr.task_timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RunConfig snapshots the per-run settings. It is built once when a run starts.
func (c Config) RunConfig(runID string) pipeline.RunConfig {
	return pipeline.RunConfig{
		RunID:     runID,
		Endpoint:  strings.TrimSpace(c.Queue.Endpoint),
		QueueMode: sheets.Mode(c.Queue.Mode),
		APIKey:    strings.TrimSpace(c.OCR.APIKey),
		Domain:    c.Marketplace.Domain,
	}
}

// Watchdog is the per-item deadline.
func (c Config) Watchdog() time.Duration {
	return time.Duration(c.Pipeline.WatchdogSeconds) * time.Second
}

// ScrapeTimeout bounds the wait for the page's scrape result.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Browser.ScrapeTimeoutSeconds) * time.Second
}

// OCRTaskTimeout is the per-image ceiling.
func (c Config) OCRTaskTimeout() time.Duration {
	return time.Duration(c.OCR.TaskTimeoutSeconds) * time.Second
}

// CacheTTL is how long resolved OCR text stays cached.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}
