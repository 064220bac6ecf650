// Package config loads server settings from defaults, an optional YAML
// file, and SENSORHUB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wricardo/sensor-game-hub/game/codes"
)

// EnvPrefix is prepended to every environment override, e.g.
// SENSORHUB_SERVER_PORT=9090.
const EnvPrefix = "SENSORHUB"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Codes     CodesConfig
	Rooms     RoomsConfig
	Janitor   JanitorConfig
	Games     GamesConfig
	Ngrok     NgrokConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	PublicURL      string   `mapstructure:"publicURL"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	// CodeLookupLimit bounds /api/session-codes requests per client address.
	CodeLookupLimit RateLimitConfig `mapstructure:"codeLookupLimit"`
}

type TransportConfig struct {
	MaxMessageSize int64           `mapstructure:"maxMessageSize"`
	SendBuffer     int             `mapstructure:"sendBuffer"`
	WriteWait      time.Duration   `mapstructure:"writeWait"`
	PongWait       time.Duration   `mapstructure:"pongWait"`
	RateLimit      RateLimitConfig `mapstructure:"rateLimit"`
}

type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refillInterval"`
}

type CodesConfig struct {
	SessionTTL  time.Duration `mapstructure:"sessionTTL"`
	RecentLimit int           `mapstructure:"recentLimit"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
}

type RoomsConfig struct {
	MaxAge            time.Duration `mapstructure:"maxAge"`
	DefaultMaxPlayers int           `mapstructure:"defaultMaxPlayers"`
}

type JanitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type GamesConfig struct {
	Dir string `mapstructure:"dir"`
	// Hidden game ids stay loaded but are left out of listings.
	Hidden []string `mapstructure:"hidden"`
}

type NgrokConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AuthToken string `mapstructure:"authToken"`
	Domain    string `mapstructure:"domain"`
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Transport.PongWait <= 0 {
		errs = append(errs, errors.New("transport.pongWait must be positive"))
	}
	if c.Server.CodeLookupLimit.Burst <= 0 || c.Server.CodeLookupLimit.RefillInterval <= 0 {
		errs = append(errs, errors.New("server.codeLookupLimit burst and refillInterval must be positive"))
	}
	if c.Transport.SendBuffer <= 0 {
		errs = append(errs, errors.New("transport.sendBuffer must be positive"))
	}
	if c.Codes.SessionTTL <= 0 {
		errs = append(errs, errors.New("codes.sessionTTL must be positive"))
	}
	// A recent set as large as the code space leaves nothing to draw.
	if c.Codes.RecentLimit < 0 || c.Codes.RecentLimit >= codes.Space {
		errs = append(errs, fmt.Errorf("codes.recentLimit %d must be in [0, %d)", c.Codes.RecentLimit, codes.Space))
	}
	if c.Codes.MaxAttempts <= 0 {
		errs = append(errs, errors.New("codes.maxAttempts must be positive"))
	}
	if c.Janitor.Interval <= 0 {
		errs = append(errs, errors.New("janitor.interval must be positive"))
	}
	if c.Rooms.MaxAge <= 0 {
		errs = append(errs, errors.New("rooms.maxAge must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.publicURL", "")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.codeLookupLimit.burst", 30)
	v.SetDefault("server.codeLookupLimit.refillInterval", "1m")

	v.SetDefault("transport.maxMessageSize", 8192)
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.writeWait", "10s")
	v.SetDefault("transport.pongWait", "60s")
	v.SetDefault("transport.rateLimit.burst", 120)
	v.SetDefault("transport.rateLimit.refillInterval", "1s")

	v.SetDefault("codes.sessionTTL", "10m")
	v.SetDefault("codes.recentLimit", 1000)
	v.SetDefault("codes.maxAttempts", 9000)

	v.SetDefault("rooms.maxAge", "1h")
	v.SetDefault("rooms.defaultMaxPlayers", 4)

	v.SetDefault("janitor.interval", "5m")

	v.SetDefault("games.dir", "games")
	v.SetDefault("games.hidden", []string{})

	v.SetDefault("ngrok.enabled", false)
	v.SetDefault("ngrok.authToken", "")
	v.SetDefault("ngrok.domain", "")
}

// Load reads configuration from fileName.yaml in the working directory and
// the environment. A missing file is not an error.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Debug("Config file not found, using defaults and environment", "name", fileName)
	} else {
		logger.Info("Loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
