package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	ProductDB ProductDBConfig `mapstructure:"productdb"`
	Vision    VisionConfig    `mapstructure:"vision"`
	Conveyor  ConveyorConfig  `mapstructure:"conveyor"`
	Rewards   RewardsConfig   `mapstructure:"rewards"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProductDBConfig holds the Open Food Facts client settings.
type ProductDBConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
}

// VisionConfig holds the image analysis settings.
type VisionConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	CredentialsFile     string  `mapstructure:"credentials_file"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// ConveyorConfig holds the sorting hardware bridge settings. An empty URL
// disables the bridge.
type ConveyorConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RewardsConfig holds the point economy settings.
type RewardsConfig struct {
	PointsPerBottle int           `mapstructure:"points_per_bottle"`
	CashPerPoint    float64       `mapstructure:"cash_per_point"`
	ScanCooldown    time.Duration `mapstructure:"scan_cooldown"`
}

// AuthConfig holds JWT settings for user sessions and voucher tokens.
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	JWTAudience      string `mapstructure:"jwt_audience"`
	VoucherJWTSecret string `mapstructure:"voucher_jwt_secret"`
}

// Load reads configuration from config files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/recircle/")

	v.SetEnvPrefix("RECIRCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=recircle port=5432 sslmode=disable")
	v.SetDefault("redis.addr", "redis:6379")

	v.SetDefault("productdb.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("productdb.timeout", "10s")
	v.SetDefault("productdb.requests_per_sec", 10)

	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.confidence_threshold", 0.70)

	v.SetDefault("conveyor.timeout", "5s")

	v.SetDefault("rewards.points_per_bottle", 10)
	v.SetDefault("rewards.cash_per_point", 0.01)
	v.SetDefault("rewards.scan_cooldown", "3s")

	v.SetDefault("auth.jwt_secret", "dev-secret")
}

func validate(cfg *Config) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database DSN is required (set RECIRCLE_DATABASE_DSN)")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis address is required (set RECIRCLE_REDIS_ADDR)")
	}
	if cfg.Rewards.PointsPerBottle <= 0 {
		return fmt.Errorf("rewards.points_per_bottle must be positive, got: %d", cfg.Rewards.PointsPerBottle)
	}
	if cfg.Vision.ConfidenceThreshold <= 0 || cfg.Vision.ConfidenceThreshold > 1 {
		return fmt.Errorf("vision.confidence_threshold must be in (0, 1], got: %v", cfg.Vision.ConfidenceThreshold)
	}
	if cfg.Auth.VoucherJWTSecret == "" {
		cfg.Auth.VoucherJWTSecret = cfg.Auth.JWTSecret
	}
	return nil
}
