// Package config loads the server configuration from yaml with environment
// overrides for deployment-injected values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Directories DirectoriesConfig `yaml:"directories"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Audit       AuditConfig       `yaml:"audit"`
	CORS        CORSConfig        `yaml:"cors"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the store. Driver is "memory" or "postgres"; DSN is
// required for postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the shared rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	InternalToken string `yaml:"internal_token"`
}

// DirectoriesConfig holds the base URLs of the external directories. An
// empty URL selects the degraded offline client (users/products) or the
// in-process tag service (tags).
type DirectoriesConfig struct {
	UsersURL    string `yaml:"users_url"`
	ProductsURL string `yaml:"products_url"`
	TagsURL     string `yaml:"tags_url"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
	// RedisLimit/RedisWindow configure the shared fixed-window limiter used
	// when redis is available.
	RedisLimit  int           `yaml:"redis_limit"`
	RedisWindow time.Duration `yaml:"redis_window"`
}

type AuditConfig struct {
	Size int    `yaml:"size"`
	File string `yaml:"file"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Driver: "memory"},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			RedisLimit:        500,
			RedisWindow:       time.Minute,
		},
		Audit: AuditConfig{Size: 200},
		CORS:  CORSConfig{Origins: []string{"*"}},
	}
}

// Load reads the configuration file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file when it exists, otherwise the defaults with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("INTERNAL_TOKEN"); v != "" {
		c.Auth.InternalToken = v
	}
	if v := os.Getenv("USER_DIRECTORY_URL"); v != "" {
		c.Directories.UsersURL = v
	}
	if v := os.Getenv("PRODUCT_DIRECTORY_URL"); v != "" {
		c.Directories.ProductsURL = v
	}
	if v := os.Getenv("TAG_DIRECTORY_URL"); v != "" {
		c.Directories.TagsURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit: requests_per_second and burst must be positive")
	}
	return nil
}
