package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Injection InjectionConfig `mapstructure:"injection"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Advisory  AdvisoryConfig  `mapstructure:"advisory"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// InjectionConfig carries pacing defaults applied to campaigns created
// without explicit values.
type InjectionConfig struct {
	DefaultMinDelay time.Duration `mapstructure:"default_min_delay"`
	DefaultMaxDelay time.Duration `mapstructure:"default_max_delay"`
	DefaultNoise    string        `mapstructure:"default_noise"`
}

type DeliveryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type AdvisoryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type AuthConfig struct {
	// AdminToken guards the HTTP API when set; empty disables auth
	// (local single-operator deployments).
	AdminToken string `mapstructure:"admin_token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("leadpipe")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/leadpipe")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LEADPIPE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/leadpipe.db")

	viper.SetDefault("injection.default_min_delay", 30*time.Second)
	viper.SetDefault("injection.default_max_delay", 3*time.Minute)
	viper.SetDefault("injection.default_noise", "medium")

	viper.SetDefault("delivery.timeout", 30*time.Second)

	viper.SetDefault("advisory.interval", time.Minute)

	viper.SetDefault("auth.admin_token", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
