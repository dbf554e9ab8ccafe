// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/uzadolat/courtharvest/internal/harvest"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Rate    RateConfig    `mapstructure:"rate"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HarvestConfig governs enumeration and the worker pool.
type HarvestConfig struct {
	DownloadDir                string            `mapstructure:"download_dir"`
	Sections                   []harvest.Section `mapstructure:"sections"`
	Workers                    int               `mapstructure:"workers"`
	AbortOnPageFailure         bool              `mapstructure:"abort_on_page_failure"`
	MaxConsecutivePageFailures int               `mapstructure:"max_consecutive_page_failures"`
}

// RateConfig tunes the shared adaptive delay.
type RateConfig struct {
	BaseDelayMs      int     `mapstructure:"base_delay_ms"`
	MinDelayMs       int     `mapstructure:"min_delay_ms"`
	MaxDelayMs       int     `mapstructure:"max_delay_ms"`
	BackoffFactor    float64 `mapstructure:"backoff_factor"`
	DecayFactor      float64 `mapstructure:"decay_factor"`
	SuccessThreshold int     `mapstructure:"success_threshold"`
}

// HTTPConfig configures the listing and artifact HTTP clients.
type HTTPConfig struct {
	ListingTimeoutSeconds  int    `mapstructure:"listing_timeout_seconds"`
	ArtifactTimeoutSeconds int    `mapstructure:"artifact_timeout_seconds"`
	MaxAttempts            int    `mapstructure:"max_attempts"`
	PageSize               int    `mapstructure:"page_size"`
	MaxArtifactMB          int    `mapstructure:"max_artifact_mb"`
	UserAgent              string `mapstructure:"user_agent"`
}

// RedisConfig points at the optional completion cache. Empty addr disables it.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
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

	if len(cfg.Harvest.Sections) == 0 {
		cfg.Harvest.Sections = DefaultSections()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultSections returns the two known listing endpoints: the current API
// and the pre-2024 one that still serves the older decisions.
func DefaultSections() []harvest.Section {
	return []harvest.Section{
		{
			Tag:       "new",
			Kind:      harvest.SectionKindNew,
			BaseURL:   "https://adolatapi1.sud.uz",
			ListPath:  "/publications/list",
			CourtType: "ECONOMIC",
		},
		{
			Tag:       "old",
			Kind:      harvest.SectionKindOld,
			BaseURL:   "https://publication.sud.uz",
			ListPath:  "/unauthorized/publications",
			CourtType: "ECONOMIC",
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("harvest.download_dir", "downloads")
	v.SetDefault("harvest.workers", 4)
	v.SetDefault("harvest.abort_on_page_failure", false)
	v.SetDefault("harvest.max_consecutive_page_failures", 10)
	v.SetDefault("rate.base_delay_ms", 300)
	v.SetDefault("rate.min_delay_ms", 100)
	v.SetDefault("rate.max_delay_ms", 10000)
	v.SetDefault("rate.backoff_factor", 1.5)
	v.SetDefault("rate.decay_factor", 0.9)
	v.SetDefault("rate.success_threshold", 3)
	v.SetDefault("http.listing_timeout_seconds", 30)
	v.SetDefault("http.artifact_timeout_seconds", 60)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.page_size", 30)
	v.SetDefault("http.max_artifact_mb", 50)
	v.SetDefault("http.user_agent", "courtharvest/1.0")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Harvest.DownloadDir) == "" {
		return fmt.Errorf("harvest.download_dir must be set")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Rate.MinDelayMs <= 0 || c.Rate.MaxDelayMs < c.Rate.MinDelayMs {
		return fmt.Errorf("rate delays must satisfy 0 < min_delay_ms <= max_delay_ms")
	}
	if c.Rate.BackoffFactor <= 1 {
		return fmt.Errorf("rate.backoff_factor must be > 1")
	}
	if c.Rate.DecayFactor <= 0 || c.Rate.DecayFactor >= 1 {
		return fmt.Errorf("rate.decay_factor must be in (0, 1)")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.PageSize <= 0 {
		return fmt.Errorf("http.page_size must be > 0")
	}
	tags := map[string]bool{}
	for _, s := range c.Harvest.Sections {
		if s.Tag == "" || s.BaseURL == "" || s.ListPath == "" {
			return fmt.Errorf("every section needs tag, base_url and list_path")
		}
		if s.Kind != harvest.SectionKindNew && s.Kind != harvest.SectionKindOld {
			return fmt.Errorf("section %s: unknown kind %q", s.Tag, s.Kind)
		}
		if tags[s.Tag] {
			return fmt.Errorf("duplicate section tag %q", s.Tag)
		}
		tags[s.Tag] = true
	}
	return nil
}

// SectionByTag resolves a configured section by its tag.
func (c Config) SectionByTag(tag string) (harvest.Section, error) {
	for _, s := range c.Harvest.Sections {
		if s.Tag == tag {
			return s, nil
		}
	}
	return harvest.Section{}, fmt.Errorf("unknown section %q", tag)
}

// ListingTimeout returns the listing client timeout as a duration.
func (c Config) ListingTimeout() time.Duration {
	return time.Duration(c.HTTP.ListingTimeoutSeconds) * time.Second
}

// ArtifactTimeout returns the artifact client timeout as a duration.
func (c Config) ArtifactTimeout() time.Duration {
	return time.Duration(c.HTTP.ArtifactTimeoutSeconds) * time.Second
}

// BaseDelay returns the starting inter-request delay.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Rate.BaseDelayMs) * time.Millisecond
}

// MinDelay returns the lower delay bound.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.Rate.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the upper delay bound.
func (c Config) MaxDelay() time.Duration {
	return time.Duration(c.Rate.MaxDelayMs) * time.Millisecond
}

// MaxArtifactBytes converts the artifact size cap to bytes.
func (c Config) MaxArtifactBytes() int64 {
	return int64(c.HTTP.MaxArtifactMB) << 20
}
