package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/medforge/portal/internal/logger"
	"github.com/medforge/portal/internal/surface"
)

// Config holds all configuration for the portal binaries
type Config struct {
	APIURL          string          `mapstructure:"PORTAL_API_URL"`
	Surface         surface.Surface `mapstructure:"-"`
	Domain          string          `mapstructure:"PORTAL_DOMAIN"`
	ListenAddr      string          `mapstructure:"PORTAL_LISTEN_ADDR"`
	PollInterval    time.Duration   `mapstructure:"PORTAL_POLL_INTERVAL"`
	PollMaxFailures int             `mapstructure:"PORTAL_POLL_MAX_FAILURES"`
	RequestTimeout  time.Duration   `mapstructure:"PORTAL_REQUEST_TIMEOUT"`
	RankingInFlight int64           `mapstructure:"PORTAL_RANKING_MAX_INFLIGHT"`
	RatePerHour     int             `mapstructure:"PORTAL_RATE_PER_HOUR"`
	RateBurst       int             `mapstructure:"PORTAL_RATE_BURST"`
	UpstreamRPS     float64         `mapstructure:"PORTAL_UPSTREAM_RPS"`
	UpstreamBurst   int             `mapstructure:"PORTAL_UPSTREAM_BURST"`
	LogLevel        string          `mapstructure:"PORTAL_LOG_LEVEL"`
	LogFormat       logger.Format   `mapstructure:"PORTAL_LOG_FORMAT"`
}

const defaultServerAPIURL = "http://127.0.0.1:8000"

var keys = []string{
	"PORTAL_API_URL",
	"PORTAL_SURFACE",
	"PORTAL_DOMAIN",
	"PORTAL_LISTEN_ADDR",
	"PORTAL_POLL_INTERVAL",
	"PORTAL_POLL_MAX_FAILURES",
	"PORTAL_REQUEST_TIMEOUT",
	"PORTAL_RANKING_MAX_INFLIGHT",
	"PORTAL_RATE_PER_HOUR",
	"PORTAL_RATE_BURST",
	"PORTAL_UPSTREAM_RPS",
	"PORTAL_UPSTREAM_BURST",
	"PORTAL_LOG_LEVEL",
	"PORTAL_LOG_FORMAT",
}

// Load reads an optional .env file and then the environment
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromViper(viper.New())
}

// FromViper maps an already populated viper instance onto Config
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for _, key := range keys {
		// Unmarshal only sees keys viper knows about
		_ = v.BindEnv(key)
	}

	v.SetDefault("PORTAL_SURFACE", string(surface.External))
	v.SetDefault("PORTAL_LISTEN_ADDR", ":8080")
	v.SetDefault("PORTAL_POLL_INTERVAL", "3s")
	v.SetDefault("PORTAL_POLL_MAX_FAILURES", 5)
	v.SetDefault("PORTAL_REQUEST_TIMEOUT", "15s")
	v.SetDefault("PORTAL_RANKING_MAX_INFLIGHT", 0)
	v.SetDefault("PORTAL_RATE_PER_HOUR", 600)
	v.SetDefault("PORTAL_RATE_BURST", 20)
	v.SetDefault("PORTAL_UPSTREAM_RPS", 50)
	v.SetDefault("PORTAL_UPSTREAM_BURST", 100)
	v.SetDefault("PORTAL_LOG_LEVEL", "info")
	v.SetDefault("PORTAL_LOG_FORMAT", string(logger.FormatConsole))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	s, err := surface.Parse(v.GetString("PORTAL_SURFACE"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAL_SURFACE value: %w", err)
	}
	cfg.Surface = s

	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL(cfg.Domain)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid PORTAL_API_URL value %q", c.APIURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PORTAL_POLL_INTERVAL must be positive")
	}
	if c.PollMaxFailures < 0 {
		return fmt.Errorf("PORTAL_POLL_MAX_FAILURES must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("PORTAL_REQUEST_TIMEOUT must be positive")
	}
	if c.RankingInFlight < 0 {
		return fmt.Errorf("PORTAL_RANKING_MAX_INFLIGHT must not be negative")
	}
	if c.RatePerHour <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("PORTAL_RATE_PER_HOUR and PORTAL_RATE_BURST must be positive")
	}
	if c.UpstreamRPS <= 0 || c.UpstreamBurst <= 0 {
		return fmt.Errorf("PORTAL_UPSTREAM_RPS and PORTAL_UPSTREAM_BURST must be positive")
	}
	switch c.LogFormat {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("invalid PORTAL_LOG_FORMAT value %q", c.LogFormat)
	}
	return nil
}

func defaultAPIURL(domain string) string {
	if domain != "" {
		return fmt.Sprintf("https://api.medforge.%s", domain)
	}
	return defaultServerAPIURL
}
