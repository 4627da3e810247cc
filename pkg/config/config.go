// Package config loads the data-access settings from defaults, an optional
// config file and DATAACCESS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/logging"
	"github.com/Sternrassler/dataaccess/pkg/retry"
	"github.com/Sternrassler/dataaccess/pkg/store"
	"github.com/Sternrassler/dataaccess/pkg/token"
	"github.com/Sternrassler/dataaccess/pkg/upstream"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, with dots replaced by
// underscores: DATAACCESS_DATABASE_POOL_CAPACITY sets database.pool_capacity.
const EnvPrefix = "DATAACCESS"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the complete runtime configuration.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Log         LogConfig      `mapstructure:"log"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Retry       RetryConfig    `mapstructure:"retry"`
	Token       TokenConfig    `mapstructure:"token"`
	OAuth       OAuthConfig    `mapstructure:"oauth"`
	Upstream    UpstreamConfig `mapstructure:"upstream"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	CookieDomain  string `mapstructure:"cookie_domain"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	PoolCapacity    int           `mapstructure:"pool_capacity"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Backoff     string        `mapstructure:"backoff"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type TokenConfig struct {
	RefreshBuffer  time.Duration `mapstructure:"refresh_buffer"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	RotationGrace  time.Duration `mapstructure:"rotation_grace"`
	StoreTTL       time.Duration `mapstructure:"store_ttl"`
}

type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxPages          int           `mapstructure:"max_pages"`
	CacheRetention    time.Duration `mapstructure:"cache_retention"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads the configuration into v. path names a config file; when it
// is empty, dataaccess.{yaml,toml,json} in the working directory is used
// if present. v may be nil.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dataaccess")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetDefault("environment", EnvDevelopment)
	setDefaults(v, v.GetString("environment"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, env string) {
	db := store.DefaultConfig()
	policy := retry.PolicyForEnvironment(env)
	tok := token.DefaultConfig()
	up := upstream.DefaultConfig()
	logCfg := logging.ConfigForEnvironment(env)

	capacity := db.Capacity
	if isProduction(env) {
		capacity = 2
	}

	v.SetDefault("log.level", logCfg.Level.String())
	v.SetDefault("log.pretty", logCfg.Pretty)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cookie_domain", "")
	v.SetDefault("server.secure_cookies", isProduction(env))

	v.SetDefault("database.driver", db.Driver)
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.user", db.User)
	v.SetDefault("database.password", db.Password)
	v.SetDefault("database.name", db.DBName)
	v.SetDefault("database.sslmode", db.SSLMode)
	v.SetDefault("database.pool_capacity", capacity)
	v.SetDefault("database.acquire_timeout", policy.AttemptTimeout)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)

	v.SetDefault("retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("retry.base_delay", policy.BaseDelay)
	v.SetDefault("retry.backoff", "linear")
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.jitter", 0.0)

	v.SetDefault("token.refresh_buffer", tok.RefreshBuffer)
	v.SetDefault("token.refresh_timeout", tok.RefreshTimeout)
	v.SetDefault("token.rotation_grace", tok.RotationGrace)
	v.SetDefault("token.store_ttl", 30*24*time.Hour)

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.auth_url", "")
	v.SetDefault("oauth.token_url", "")
	v.SetDefault("oauth.redirect_url", "")
	v.SetDefault("oauth.scopes", []string{})

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.user_agent", up.UserAgent)
	v.SetDefault("upstream.page_timeout", up.PageTimeout)
	v.SetDefault("upstream.requests_per_second", up.RequestsPerSecond)
	v.SetDefault("upstream.burst", up.Burst)
	v.SetDefault("upstream.max_pages", 0)
	v.SetDefault("upstream.cache_retention", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

func isProduction(env string) bool {
	switch strings.ToLower(env) {
	case "production", "prod":
		return true
	}
	return false
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.PoolCapacity < 1 {
		errs = append(errs, fmt.Errorf("database.pool_capacity must be >= 1 (got %d)", c.Database.PoolCapacity))
	}
	if c.Database.AcquireTimeout <= 0 {
		errs = append(errs, fmt.Errorf("database.acquire_timeout must be > 0 (got %s)", c.Database.AcquireTimeout))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 0 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must be >= 0 (got %s)", c.Retry.BaseDelay))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be within [0, 1] (got %g)", c.Retry.Jitter))
	}
	if _, err := retry.ParseBackoff(c.Retry.Backoff, c.Retry.MaxDelay, 0); err != nil {
		errs = append(errs, fmt.Errorf("retry.backoff: %w", err))
	}
	if c.Token.RefreshBuffer < 0 {
		errs = append(errs, fmt.Errorf("token.refresh_buffer must be >= 0 (got %s)", c.Token.RefreshBuffer))
	}
	if c.Token.RefreshTimeout <= 0 {
		errs = append(errs, fmt.Errorf("token.refresh_timeout must be > 0 (got %s)", c.Token.RefreshTimeout))
	}
	if c.Upstream.PageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.page_timeout must be > 0 (got %s)", c.Upstream.PageTimeout))
	}
	if c.Upstream.CacheRetention < 0 {
		errs = append(errs, fmt.Errorf("upstream.cache_retention must be >= 0 (got %s)", c.Upstream.CacheRetention))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Upstream.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_pages must be >= 0 (got %d)", c.Upstream.MaxPages))
	}
	if err := c.StoreConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}

// StoreConfig returns the database settings.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:          c.Database.Driver,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		DBName:          c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		Capacity:        c.Database.PoolCapacity,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// RetryPolicy returns the executor policy. The acquire timeout bounds
// every attempt.
func (c *Config) RetryPolicy() (retry.Policy, error) {
	backoff, err := retry.ParseBackoff(c.Retry.Backoff, c.Retry.MaxDelay, c.Retry.Jitter)
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseDelay:      c.Retry.BaseDelay,
		AttemptTimeout: c.Database.AcquireTimeout,
		Backoff:        backoff,
	}, nil
}

// TokenConfig returns the token manager settings.
func (c *Config) TokenConfig() token.Config {
	return token.Config{
		RefreshBuffer:  c.Token.RefreshBuffer,
		RefreshTimeout: c.Token.RefreshTimeout,
		RotationGrace:  c.Token.RotationGrace,
		StoreTTL:       c.Token.StoreTTL,
	}
}

// OAuthClientConfig returns the authorization server settings.
func (c *Config) OAuthClientConfig() token.OAuthConfig {
	return token.OAuthConfig{
		ClientID:     c.OAuth.ClientID,
		ClientSecret: c.OAuth.ClientSecret,
		AuthURL:      c.OAuth.AuthURL,
		TokenURL:     c.OAuth.TokenURL,
		RedirectURL:  c.OAuth.RedirectURL,
		Scopes:       c.OAuth.Scopes,
	}
}

// UpstreamConfig returns the page client settings.
func (c *Config) UpstreamConfig() upstream.Config {
	return upstream.Config{
		UserAgent:         c.Upstream.UserAgent,
		PageTimeout:       c.Upstream.PageTimeout,
		RequestsPerSecond: c.Upstream.RequestsPerSecond,
		Burst:             c.Upstream.Burst,
	}
}

// LoggingConfig returns the logger settings. An unparsable level, which
// Validate reports, falls back to info.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	cfg.Environment = c.Environment
	return cfg
}
