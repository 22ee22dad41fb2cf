package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Webhooks   WebhooksConfig   `mapstructure:"webhooks"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	AdminKeys  AdminKeysConfig  `mapstructure:"admin_keys"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type WebhooksConfig struct {
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Environment      string        `mapstructure:"environment"`
	RetrySweepEvery  time.Duration `mapstructure:"retry_sweep_every"`
	DisableThreshold int           `mapstructure:"disable_threshold"`
}

type ResilienceConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	MinDelay         time.Duration `mapstructure:"min_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	StatePath        string        `mapstructure:"state_path"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// AdminKeysConfig carries bcrypt hashes of the operator API keys accepted
// on the X-API-Key auth path.
type AdminKeysConfig struct {
	Hashes []string `mapstructure:"hashes"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Webhooks.DeliveryTimeout == 0 {
		cfg.Webhooks.DeliveryTimeout = 5 * time.Second
	}
	if cfg.Webhooks.UserAgent == "" {
		cfg.Webhooks.UserAgent = "Propvest-Webhooks/1.0"
	}
	if cfg.Webhooks.Environment == "" {
		cfg.Webhooks.Environment = "production"
	}
	if cfg.Webhooks.RetrySweepEvery == 0 {
		cfg.Webhooks.RetrySweepEvery = 5 * time.Minute
	}
	if cfg.Webhooks.DisableThreshold == 0 {
		cfg.Webhooks.DisableThreshold = 25
	}
	if cfg.Resilience.MaxRetries == 0 {
		cfg.Resilience.MaxRetries = 3
	}
	if cfg.Resilience.MinDelay == 0 {
		cfg.Resilience.MinDelay = 500 * time.Millisecond
	}
	if cfg.Resilience.MaxDelay == 0 {
		cfg.Resilience.MaxDelay = 30 * time.Second
	}
	if cfg.Resilience.BackoffFactor == 0 {
		cfg.Resilience.BackoffFactor = 2
	}
	if cfg.Resilience.RequestTimeout == 0 {
		cfg.Resilience.RequestTimeout = 10 * time.Second
	}
	if cfg.Resilience.FailureThreshold == 0 {
		cfg.Resilience.FailureThreshold = 5
	}
	if cfg.Resilience.Cooldown == 0 {
		cfg.Resilience.Cooldown = 30 * time.Second
	}
}
