// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // board timestamps are local to Asia/Taipei

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read (when present) before the environment is consulted.
const DefaultEnvFile = ".env"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Board   BoardConfig   `mapstructure:"board"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Lookup  LookupConfig  `mapstructure:"lookup"`
	Dedup   DedupConfig   `mapstructure:"dedup"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the operations HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BoardConfig identifies the board and the authors tracked on it.
type BoardConfig struct {
	BaseURL              string   `mapstructure:"base_url"`
	Name                 string   `mapstructure:"name"`
	Authors              []string `mapstructure:"authors"`
	MaxPostsPerCrawl     int      `mapstructure:"max_posts_per_crawl"`
	SearchDays           int      `mapstructure:"search_days"`
	Timezone             string   `mapstructure:"timezone"`
	CrawlIntervalSeconds int      `mapstructure:"crawl_interval_seconds"`
}

// HTTPConfig configures the anti-bot board session.
type HTTPConfig struct {
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	MinDelayMs        int      `mapstructure:"min_delay_ms"`
	MaxDelayMs        int      `mapstructure:"max_delay_ms"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	BackoffInitialMs  int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int      `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	UserAgents        []string `mapstructure:"user_agents"`
	ProxyURL          string   `mapstructure:"proxy_url"`
}

// LLMConfig configures the local generation service.
type LLMConfig struct {
	Enabled                   bool    `mapstructure:"enabled"`
	BaseURL                   string  `mapstructure:"base_url"`
	Model                     string  `mapstructure:"model"`
	HybridTimeoutSeconds      int     `mapstructure:"hybrid_timeout_seconds"`
	ExploratoryTimeoutSeconds int     `mapstructure:"exploratory_timeout_seconds"`
	PromptChars               int     `mapstructure:"prompt_chars"`
	Temperature               float64 `mapstructure:"temperature"`
	NumCtx                    int     `mapstructure:"num_ctx"`
	NumPredict                int     `mapstructure:"num_predict"`
	BreakerFailures           int     `mapstructure:"breaker_failures"`
	BreakerCooldownSeconds    int     `mapstructure:"breaker_cooldown_seconds"`
}

// LookupConfig configures the instrument lookup services.
type LookupConfig struct {
	FinMindURL        string  `mapstructure:"finmind_url"`
	FinMindToken      string  `mapstructure:"finmind_token"`
	AlphaVantageURL   string  `mapstructure:"alpha_vantage_url"`
	AlphaVantageKey   string  `mapstructure:"alpha_vantage_key"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	Concurrency       int     `mapstructure:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	CacheTTLMinutes   int     `mapstructure:"cache_ttl_minutes"`
	ValkeyAddr        string  `mapstructure:"valkey_addr"`
	ValkeyPassword    string  `mapstructure:"valkey_password"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	PublishToleranceSeconds int `mapstructure:"publish_tolerance_seconds"`
}

// StorageConfig selects the post store and the optional raw archive.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Archive   string `mapstructure:"archive"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int    `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for post notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env, disk and environment, in increasing order
// of precedence for the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
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
	cfg.Board.Authors = splitList(cfg.Board.Authors)
	cfg.HTTP.UserAgents = dropBlank(cfg.HTTP.UserAgents)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the bare API key variable names working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"lookup.finmind_token":     {"CRAWLER_LOOKUP_FINMIND_TOKEN", "FINMIND_API_KEY"},
		"lookup.alpha_vantage_key": {"CRAWLER_LOOKUP_ALPHA_VANTAGE_KEY", "ALPHA_VANTAGE_API_KEY"},
		"db.dsn":                   {"CRAWLER_DB_DSN", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("board.base_url", "https://www.ptt.cc")
	v.SetDefault("board.name", "Stock")
	v.SetDefault("board.authors", []string{"mrp"})
	v.SetDefault("board.max_posts_per_crawl", 100)
	v.SetDefault("board.search_days", 3)
	v.SetDefault("board.timezone", "Asia/Taipei")
	v.SetDefault("board.crawl_interval_seconds", 300)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.min_delay_ms", 800)
	v.SetDefault("http.max_delay_ms", 2500)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 20000)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.user_agents", DefaultUserAgents)
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.model", "qwen2.5:0.5b")
	v.SetDefault("llm.hybrid_timeout_seconds", 5)
	v.SetDefault("llm.exploratory_timeout_seconds", 180)
	v.SetDefault("llm.prompt_chars", 300)
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.num_ctx", 1024)
	v.SetDefault("llm.num_predict", 200)
	v.SetDefault("llm.breaker_failures", 3)
	v.SetDefault("llm.breaker_cooldown_seconds", 60)
	v.SetDefault("lookup.finmind_url", "https://api.finmindtrade.com/api/v4")
	v.SetDefault("lookup.alpha_vantage_url", "https://www.alphavantage.co")
	v.SetDefault("lookup.timeout_seconds", 10)
	v.SetDefault("lookup.concurrency", 4)
	v.SetDefault("lookup.requests_per_second", 2.0)
	v.SetDefault("lookup.cache_ttl_minutes", 24*60)
	v.SetDefault("dedup.publish_tolerance_seconds", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.archive", "none")
	v.SetDefault("storage.prefix", "posts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// DefaultUserAgents is the identity pool rotated by the board session.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := url.ParseRequestURI(c.Board.BaseURL); err != nil {
		return fmt.Errorf("board.base_url is invalid: %w", err)
	}
	if strings.TrimSpace(c.Board.Name) == "" {
		return fmt.Errorf("board.name is required")
	}
	if len(c.Board.Authors) == 0 {
		return fmt.Errorf("board.authors must list at least one author")
	}
	if c.Board.MaxPostsPerCrawl <= 0 {
		return fmt.Errorf("board.max_posts_per_crawl must be > 0")
	}
	if c.Board.SearchDays <= 0 {
		return fmt.Errorf("board.search_days must be > 0")
	}
	if _, err := time.LoadLocation(c.Board.Timezone); err != nil {
		return fmt.Errorf("board.timezone is invalid: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MinDelayMs < 0 || c.HTTP.MaxDelayMs < c.HTTP.MinDelayMs {
		return fmt.Errorf("http delay range must satisfy 0 <= min_delay_ms <= max_delay_ms")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms")
	}
	if len(c.HTTP.UserAgents) == 0 {
		return fmt.Errorf("http.user_agents must not be empty")
	}
	if c.HTTP.ProxyURL != "" {
		if _, err := url.Parse(c.HTTP.ProxyURL); err != nil {
			return fmt.Errorf("http.proxy_url is invalid: %w", err)
		}
	}
	if c.LLM.Enabled {
		if c.LLM.BaseURL == "" || c.LLM.Model == "" {
			return fmt.Errorf("llm.base_url and llm.model are required when llm is enabled")
		}
		if c.LLM.HybridTimeoutSeconds <= 0 || c.LLM.ExploratoryTimeoutSeconds <= 0 {
			return fmt.Errorf("llm deadlines must be > 0")
		}
	}
	if c.Dedup.PublishToleranceSeconds < 0 {
		return fmt.Errorf("dedup.publish_tolerance_seconds must be >= 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be postgres or memory, got %q", c.Storage.Backend)
	}
	switch c.Storage.Archive {
	case "", "none":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local archive")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("storage.archive must be none, local or gcs, got %q", c.Storage.Archive)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// CrawlInterval is the pause between scheduled sessions.
func (c Config) CrawlInterval() time.Duration {
	return time.Duration(c.Board.CrawlIntervalSeconds) * time.Second
}

// RequestTimeout bounds a single board request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DelayRange returns the jittered inter-request delay bounds.
func (c Config) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.MinDelayMs) * time.Millisecond, time.Duration(c.HTTP.MaxDelayMs) * time.Millisecond
}

// Backoff returns the retry backoff base and ceiling.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond, time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// LLMDeadlines returns the hybrid and exploratory generation deadlines.
func (c Config) LLMDeadlines() (time.Duration, time.Duration) {
	return time.Duration(c.LLM.HybridTimeoutSeconds) * time.Second,
		time.Duration(c.LLM.ExploratoryTimeoutSeconds) * time.Second
}

// LookupTimeout bounds a single instrument lookup.
func (c Config) LookupTimeout() time.Duration {
	return time.Duration(c.Lookup.TimeoutSeconds) * time.Second
}

// DedupTolerance is the publish-time window treated as the same post.
func (c Config) DedupTolerance() time.Duration {
	return time.Duration(c.Dedup.PublishToleranceSeconds) * time.Second
}

// Location returns the board's local timezone, defaulting to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Board.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func dropBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// splitList accepts both proper lists and comma separated single values from
// the environment, dropping blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
