package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	OverflowDisconnect = "disconnect"
	OverflowDropOldest = "drop_oldest"

	AccessStatic = "static"
	AccessHTTP   = "http"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	Secret         string        `mapstructure:"secret"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AdminToken     string        `mapstructure:"admin_token"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendQueueSize  int           `mapstructure:"send_queue_size"`
	OverflowPolicy string        `mapstructure:"overflow_policy"`
	ValidateSDP    bool          `mapstructure:"validate_sdp"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
	Access         Access        `mapstructure:"access"`
	ICEServers     []ICEServer   `mapstructure:"ice_servers"`
	Metrics        Metrics       `mapstructure:"metrics"`
}

type RateLimit struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type Access struct {
	Mode     string        `mapstructure:"mode"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Meetings []Meeting     `mapstructure:"meetings"`
}

// Meeting is one row of the static membership table.
type Meeting struct {
	ID           string   `mapstructure:"id"`
	Host         string   `mapstructure:"host"`
	Participants []string `mapstructure:"participants"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_queue_size", 64)
	v.SetDefault("overflow_policy", OverflowDisconnect)
	v.SetDefault("validate_sdp", false)
	v.SetDefault("rate_limit.messages_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("access.mode", AccessStatic)
	v.SetDefault("access.url", "")
	v.SetDefault("access.timeout", "3s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev),
// applies MEET_* environment overrides and validates the result. A missing
// file is not an error.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("access", cfg.Access.Mode).Str("overflow", cfg.OverflowPolicy).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Port)
	case c.ReadLimit <= 0:
		return fmt.Errorf("config: read_limit must be positive")
	case c.SendQueueSize <= 0:
		return fmt.Errorf("config: send_queue_size must be positive")
	case c.PongWait <= 0 || c.PingPeriod <= 0 || c.WriteWait <= 0:
		return fmt.Errorf("config: ping_period, pong_wait and write_wait must be positive")
	case c.PingPeriod >= c.PongWait:
		return fmt.Errorf("config: ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	case c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst <= 0:
		return fmt.Errorf("config: rate_limit values must be positive")
	case c.Access.Timeout <= 0:
		return fmt.Errorf("config: access.timeout must be positive")
	}
	switch c.OverflowPolicy {
	case OverflowDisconnect, OverflowDropOldest:
	default:
		return fmt.Errorf("config: unknown overflow_policy %q", c.OverflowPolicy)
	}
	switch c.Access.Mode {
	case AccessStatic:
	case AccessHTTP:
		if c.Access.URL == "" {
			return fmt.Errorf("config: access.url is required in http mode")
		}
	default:
		return fmt.Errorf("config: unknown access.mode %q", c.Access.Mode)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("config: metrics.path must start with /")
	}
	return nil
}
