package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/casedesk/internal/cache"
)

// EnvPrefix namespaces environment overrides, e.g. CASEDESK_SERVER_PORT.
const EnvPrefix = "CASEDESK"

// Config represents the runtime configuration for the casedesk server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Bootstrap   BootstrapConfig   `mapstructure:"bootstrap"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LoginRateLimit  RateLimit     `mapstructure:"login_rate_limit"`
}

// RateLimit bounds requests per client within a window. Zero Requests disables it.
type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SharedRedis returns the Redis store settings and whether the shared cache
// should use Redis at all. Disabled Redis means the database cache serves alone.
func (c CacheConfig) SharedRedis() (cache.RedisConfig, bool) {
	r := c.Redis
	return cache.RedisConfig{
		Address:  strings.TrimSpace(r.Address),
		Username: strings.TrimSpace(r.Username),
		Password: r.Password,
		DB:       r.DB,
		TLS:      r.TLS,
		Timeout:  r.Timeout,
	}, r.Enabled
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings       `mapstructure:"jwt"`
	Session SessionSettings   `mapstructure:"session"`
	Local   LocalAuthSettings `mapstructure:"local"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
}

// LocalAuthSettings defines lockout for password login.
type LocalAuthSettings struct {
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// PermissionsConfig tunes the permission oracles and the server-side checker.
type PermissionsConfig struct {
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	FetchConcurrency   int           `mapstructure:"fetch_concurrency"`
	ServerCacheTTL     time.Duration `mapstructure:"server_cache_ttl"`
	IdleSessionTTL     time.Duration `mapstructure:"idle_session_ttl"`
	PublicModules      []string      `mapstructure:"public_modules"`
	TeamScopeNarrowing bool          `mapstructure:"team_scope_narrowing"`
}

// RealtimeConfig configures the websocket hub.
type RealtimeConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	BufferSize     int      `mapstructure:"buffer_size"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
	SessionSchedule    string `mapstructure:"session_schedule"`
	AuditSchedule      string `mapstructure:"audit_schedule"`
	OracleSchedule     string `mapstructure:"oracle_schedule"`
	CacheSchedule      string `mapstructure:"cache_schedule"`
}

// BootstrapConfig creates the first administrator when no users exist.
type BootstrapConfig struct {
	AdminEmail    string `mapstructure:"admin_email"`
	AdminName     string `mapstructure:"admin_name"`
	AdminPassword string `mapstructure:"admin_password"`
}

// LoadConfig reads config.yaml from ./config and the given paths, applies
// CASEDESK_ environment overrides and returns the decoded configuration.
func LoadConfig(paths ...string) (*Config, error) {
	return LoadConfigWith(viper.New(), paths...)
}

// LoadConfigWith is LoadConfig on a caller-supplied viper instance, so flags
// bound beforehand take precedence over file and environment values.
func LoadConfigWith(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.login_rate_limit.requests", 10)
	v.SetDefault("server.login_rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/casedesk.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "casedesk")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.session.refresh_token_ttl", "720h")
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.local.lockout_threshold", 5)
	v.SetDefault("auth.local.lockout_duration", "15m")

	v.SetDefault("permissions.refresh_interval", "5m")
	v.SetDefault("permissions.fetch_timeout", "10s")
	v.SetDefault("permissions.fetch_concurrency", 8)
	v.SetDefault("permissions.server_cache_ttl", "30s")
	v.SetDefault("permissions.idle_session_ttl", "2h")
	v.SetDefault("permissions.public_modules", []string{"profile", "dashboard"})
	v.SetDefault("permissions.team_scope_narrowing", false)

	v.SetDefault("realtime.buffer_size", 32)

	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.oracle_schedule", "@every 10m")
	v.SetDefault("maintenance.cache_schedule", "@every 30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
