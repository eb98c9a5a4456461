// Package config loads and validates scout configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/doublescout/internal/armory"
	"github.com/JakeFAU/doublescout/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. SCOUT_DELAY_MODE.
const EnvPrefix = "SCOUT"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Delay   DelayConfig   `mapstructure:"delay"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Export  ExportConfig  `mapstructure:"export"`
}

// CrawlerConfig selects the streams and page geometry.
type CrawlerConfig struct {
	PlaytimeOnly bool   `mapstructure:"playtime_only"`
	PlaytimeURL  string `mapstructure:"playtime_url"`
	NameURL      string `mapstructure:"name_url"`
	// LastPageURL is probed to discover the listing size. Empty means the
	// playtime URL.
	LastPageURL    string `mapstructure:"last_page_url"`
	PageSize       int    `mapstructure:"page_size"`
	MaxPagesPerRun int    `mapstructure:"max_pages_per_run"`
	UserAgent      string `mapstructure:"user_agent"`
}

// DelayConfig controls the pause between pages of one stream.
type DelayConfig struct {
	Mode  string        `mapstructure:"mode"`
	Fixed time.Duration `mapstructure:"fixed"`
	Min   time.Duration `mapstructure:"min"`
	Max   time.Duration `mapstructure:"max"`
}

// HTTPConfig configures request timeout and retry behavior.
type HTTPConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	// MaxRPS caps requests per second to one host across both streams.
	// Zero means no cap.
	MaxRPS float64 `mapstructure:"max_rps"`
	Burst  int     `mapstructure:"burst"`
}

// AuthConfig locates the session cookies.
type AuthConfig struct {
	CookiesFile string `mapstructure:"cookies_file"`
}

// StorageConfig sets the database file paths.
type StorageConfig struct {
	TechPath  string `mapstructure:"tech_path"`
	FinalPath string `mapstructure:"final_path"`
}

// LoggingConfig toggles zap development features and the log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Dir         string `mapstructure:"dir"`
}

// MetricsConfig controls the status server. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig controls the optional Postgres export of the canonical rows.
type ExportConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("crawler.playtime_only", false)
	v.SetDefault("crawler.playtime_url", armory.PlaytimeURL)
	v.SetDefault("crawler.name_url", armory.NameURL)
	v.SetDefault("crawler.last_page_url", "")
	v.SetDefault("crawler.page_size", armory.PageSize)
	v.SetDefault("crawler.max_pages_per_run", 0)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("delay.mode", string(crawler.DelayNone))
	v.SetDefault("delay.fixed", 500*time.Millisecond)
	v.SetDefault("delay.min", 300*time.Millisecond)
	v.SetDefault("delay.max", 1200*time.Millisecond)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.retry_delay", 2*time.Second)
	v.SetDefault("http.max_rps", 0.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("auth.cookies_file", "cookies.md")
	v.SetDefault("storage.tech_path", "BASES/tech_base.db")
	v.SetDefault("storage.final_path", "BASES/ezbase_final.db")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.dir", "LOGS")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("export.postgres_dsn", "")
	v.SetDefault("export.table", "characters")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.PlaytimeURL == "" {
		errs = append(errs, errors.New("crawler.playtime_url is required"))
	}
	if !c.Crawler.PlaytimeOnly && c.Crawler.NameURL == "" {
		errs = append(errs, errors.New("crawler.name_url is required unless crawler.playtime_only is set"))
	}
	if c.Crawler.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("crawler.page_size must be > 0, got %d", c.Crawler.PageSize))
	}
	if c.Crawler.MaxPagesPerRun < 0 {
		errs = append(errs, errors.New("crawler.max_pages_per_run must be >= 0"))
	}
	if _, err := c.Pacer(); err != nil {
		errs = append(errs, fmt.Errorf("delay: %w", err))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("http.max_attempts must be > 0"))
	}
	if c.HTTP.RetryDelay < 0 {
		errs = append(errs, errors.New("http.retry_delay must be >= 0"))
	}
	if c.HTTP.MaxRPS < 0 {
		errs = append(errs, errors.New("http.max_rps must be >= 0"))
	}
	if c.Storage.TechPath == "" || c.Storage.FinalPath == "" {
		errs = append(errs, errors.New("storage.tech_path and storage.final_path are required"))
	}
	if c.Storage.TechPath != "" && c.Storage.TechPath == c.Storage.FinalPath {
		errs = append(errs, errors.New("storage.tech_path and storage.final_path must differ"))
	}
	if c.Export.PostgresDSN != "" && c.Export.Table == "" {
		errs = append(errs, errors.New("export.table is required when export.postgres_dsn is set"))
	}
	return errors.Join(errs...)
}

// Pacer builds the inter-page delay from the delay settings.
func (c Config) Pacer() (*crawler.DelayPacer, error) {
	return crawler.NewDelayPacer(crawler.DelayMode(c.Delay.Mode), c.Delay.Fixed, c.Delay.Min, c.Delay.Max)
}

// RetryPolicy builds the per-page fetch retry policy.
func (c Config) RetryPolicy() *crawler.FixedRetryPolicy {
	return crawler.NewFixedRetryPolicy(c.HTTP.MaxAttempts, c.HTTP.RetryDelay)
}

// Streams returns the stream specs selected by the crawler settings.
func (c Config) Streams() []crawler.StreamSpec {
	return armory.Streams(c.Crawler.PlaytimeURL, c.Crawler.NameURL, c.Crawler.PlaytimeOnly)
}

// DiscoveryURL is the listing probed for its last page.
func (c Config) DiscoveryURL() string {
	if c.Crawler.LastPageURL != "" {
		return c.Crawler.LastPageURL
	}
	return c.Crawler.PlaytimeURL
}
