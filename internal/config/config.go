package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/clearance-scraper/internal/browser"
	"github.com/maltedev/clearance-scraper/internal/camouflage"
	"github.com/maltedev/clearance-scraper/internal/database"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	RateLimitMin    time.Duration
	RateLimitMax    time.Duration
	MaxRetries      int
	ConcurrentLimit int
	MaxPages        int
	UserAgents      []string
	OutputDir       string
	SitesFile       string
	Snapshot        bool
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	Proxy          browser.Proxy
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PollInterval time.Duration
	BatchSize    int
	// ConsumerGroup and ConsumerName identify the catalog stream reader.
	ConsumerGroup string
	ConsumerName  string
}

// QueueConfig bounds the in-memory run queue of the API.
type QueueConfig struct {
	MaxSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", nil),
		},
		Scraper: ScraperConfig{
			RateLimitMin:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 5*time.Second),
			MaxRetries:      getIntOrDefault("SCRAPER_MAX_RETRIES", 2),
			ConcurrentLimit: getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 2),
			MaxPages:        getIntOrDefault("SCRAPER_MAX_PAGES", 0),
			UserAgents:      getStringSliceOrDefault("SCRAPER_USER_AGENTS", camouflage.DefaultUserAgents()),
			OutputDir:       getEnvOrDefault("SCRAPER_OUTPUT_DIR", "outputs"),
			SitesFile:       getEnvOrDefault("SCRAPER_SITES_FILE", ""),
			Snapshot:        getBoolOrDefault("SCRAPER_SNAPSHOT", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("HEADLESS", getBoolOrDefault("BROWSER_HEADLESS", true)),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 60*time.Second),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "fr-CA,fr;q=0.9,en-CA;q=0.8,en;q=0.7"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Toronto"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "fr-CA"),
			Proxy: browser.Proxy{
				Server:   firstEnv("PROXY_URL", "RESIDENTIAL_PROXY", "MOBILE_PROXY"),
				Username: getEnvOrDefault("PROXY_USERNAME", ""),
				Password: getEnvOrDefault("PROXY_PASSWORD", ""),
			},
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "clearance"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", false),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),

			ConsumerGroup: getEnvOrDefault("CONSUMER_GROUP", "catalog-consumer-group"),
			ConsumerName:  getEnvOrDefault("CONSUMER_NAME", "consumer-1"),
		},
		Queue: QueueConfig{
			MaxSize: getIntOrDefault("QUEUE_MAX_SIZE", 16),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Scraper.ConcurrentLimit < 1 {
		errs = append(errs, fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1"))
	}
	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		errs = append(errs, fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX"))
	}
	if c.Scraper.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("SCRAPER_MAX_PAGES must not be negative"))
	}
	if c.Scraper.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SCRAPER_MAX_RETRIES must not be negative"))
	}
	if c.Scraper.OutputDir == "" && !c.Database.Enabled {
		errs = append(errs, fmt.Errorf("SCRAPER_OUTPUT_DIR is required when the database is disabled"))
	}
	if c.Browser.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("BROWSER_TIMEOUT must be positive"))
	}
	if c.Database.Enabled && c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("DB_HOST is required when DB_ENABLED is set"))
	}
	if c.Redis.Enabled && !c.Database.Enabled {
		errs = append(errs, fmt.Errorf("REDIS_ENABLED requires DB_ENABLED, the relay reads the outbox"))
	}
	if c.Queue.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_SIZE must be at least 1"))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// BrowserOptions maps the browser section onto launch options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.NavigationRetries = c.Scraper.MaxRetries
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.Proxy = c.Browser.Proxy
	return opts
}

func (c DatabaseConfig) Options() database.Config {
	return database.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.DBName,
		SSLMode:  c.SSLMode,
		MaxConns: c.MaxConns,
	}
}

// NewLogger builds the root logger: JSON when Format is "json", text
// otherwise.
func NewLogger(c LoggingConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
