// Package config loads the warden service configuration from file and
// environment. Every key has a default so the service starts with no
// config file at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all configuration for the warden service.
type Config struct {
	API struct {
		Host           string   `mapstructure:"host"`
		Port           int      `mapstructure:"port"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled        bool          `mapstructure:"enabled"`
		JWTSecret      string        `mapstructure:"jwt_secret"`
		TokenTTL       time.Duration `mapstructure:"token_ttl"`
		AdminUser      string        `mapstructure:"admin_user"`
		AdminPassword  string        `mapstructure:"admin_password"`
		HashedPassword string        `mapstructure:"-"`
		BcryptCost     int           `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	Storage struct {
		// Backend selects the event/quarantine store: "memory" or
		// "sqlite".
		Backend    string `mapstructure:"backend"`
		SQLitePath string `mapstructure:"sqlite_path"`
		MaxEvents  int    `mapstructure:"max_events"`
		// MaxProvenance bounds the in-memory attestation cache.
		MaxProvenance int `mapstructure:"max_provenance"`
		Redis         struct {
			// Enabled moves quarantine state to Redis so multiple
			// instances share it.
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"storage"`

	Policies struct {
		// Dir holds YAML policy files applied on top of the built-in
		// defaults at startup.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"policies"`

	Aggregation struct {
		Interval time.Duration `mapstructure:"interval"`
		Window   time.Duration `mapstructure:"window"`
	} `mapstructure:"aggregation"`

	Provenance struct {
		// KeyFile is a hex-encoded ed25519 seed; empty generates an
		// ephemeral key for the process lifetime.
		KeyFile string `mapstructure:"key_file"`
		Chains  []struct {
			ID       string `mapstructure:"id"`
			Endpoint string `mapstructure:"endpoint"`
			APIKey   string `mapstructure:"api_key"`
		} `mapstructure:"chains"`
	} `mapstructure:"provenance"`

	Forwarder struct {
		Enabled       bool          `mapstructure:"enabled"`
		Endpoint      string        `mapstructure:"endpoint"`
		AuthToken     string        `mapstructure:"auth_token"`
		BatchSize     int           `mapstructure:"batch_size"`
		FlushInterval time.Duration `mapstructure:"flush_interval"`
	} `mapstructure:"forwarder"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8090)
	viper.SetDefault("api.allowed_origins", []string{"*"})
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 200)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl", time.Hour)
	viper.SetDefault("auth.admin_user", "admin")
	viper.SetDefault("auth.admin_password", "")
	viper.SetDefault("auth.bcrypt_cost", 10)

	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.sqlite_path", "./data/warden.db")
	viper.SetDefault("storage.max_events", 100000)
	viper.SetDefault("storage.max_provenance", 10000)
	viper.SetDefault("storage.redis.enabled", false)
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)

	viper.SetDefault("policies.dir", "")

	viper.SetDefault("aggregation.interval", time.Minute)
	viper.SetDefault("aggregation.window", 15*time.Minute)

	viper.SetDefault("provenance.key_file", "")

	viper.SetDefault("forwarder.enabled", false)
	viper.SetDefault("forwarder.endpoint", "")
	viper.SetDefault("forwarder.auth_token", "")
	viper.SetDefault("forwarder.batch_size", 100)
	viper.SetDefault("forwarder.flush_interval", 5*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

func loadFromEnv() {
	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("storage.sqlite_path", "WARDEN_SQLITE_PATH")
	_ = viper.BindEnv("auth.jwt_secret", "WARDEN_JWT_SECRET")
	_ = viper.BindEnv("auth.admin_password", "WARDEN_ADMIN_PASSWORD")
	_ = viper.BindEnv("provenance.key_file", "WARDEN_KEY_FILE")
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; defaults and env vars apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// validateAndHash checks secret strength and replaces the plaintext
// admin password with its bcrypt hash.
func validateAndHash(config *Config) error {
	if config.Auth.Enabled {
		if len(config.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters when auth is enabled")
		}
		weakSecrets := []string{
			"secret", "password", "changeme", "default", "admin",
			"jwt_secret", "supersecret", "mysecret", "test", "example",
		}
		lowerSecret := strings.ToLower(config.Auth.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				return fmt.Errorf("JWT secret appears to contain a weak/default value")
			}
		}
		if config.Auth.AdminPassword == "" {
			return fmt.Errorf("auth.admin_password is required when auth is enabled")
		}
	}

	if config.Auth.AdminPassword != "" {
		cost := config.Auth.BcryptCost
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			cost = bcrypt.DefaultCost
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.AdminPassword), cost)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
		config.Auth.HashedPassword = string(hashed)
		config.Auth.AdminPassword = ""
	}

	switch config.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (want memory or sqlite)", config.Storage.Backend)
	}

	if config.Forwarder.Enabled && config.Forwarder.Endpoint == "" {
		return fmt.Errorf("forwarder.endpoint is required when the forwarder is enabled")
	}
	return nil
}
