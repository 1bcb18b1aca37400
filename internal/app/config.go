package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Software Center backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Uploads    UploadsConfig    `mapstructure:"uploads"`
	Email      EmailConfig      `mapstructure:"email"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port       int      `mapstructure:"port"`
	LogLevel   string   `mapstructure:"log_level"`
	APIPrefix  string   `mapstructure:"api_prefix"`
	CORSOrigin []string `mapstructure:"cors_origin"`
	PublicDir  string   `mapstructure:"public_dir"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig selects the backing store for short-lived counters.
type CacheConfig struct {
	Driver string          `mapstructure:"driver"`
	Bolt   BoltCacheConfig `mapstructure:"bolt"`
}

// BoltCacheConfig configures the embedded bbolt cache file.
type BoltCacheConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SnapshotConfig controls where system facts come from.
type SnapshotConfig struct {
	Source       string        `mapstructure:"source"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// LedgerConfig controls installed-software bookkeeping.
type LedgerConfig struct {
	SeedPlaceholders bool          `mapstructure:"seed_placeholders"`
	StaleUpdateAfter time.Duration `mapstructure:"stale_update_after"`
}

// TasksConfig tunes the background task queue.
type TasksConfig struct {
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Retention    time.Duration `mapstructure:"retention"`
}

// UploadsConfig configures avatar uploads.
type UploadsConfig struct {
	MaxAvatarBytes int64    `mapstructure:"max_avatar_bytes"`
	Storage        string   `mapstructure:"storage"`
	Dir            string   `mapstructure:"dir"`
	S3             S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PublicURL string `mapstructure:"public_url"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT            JWTSettings           `mapstructure:"jwt"`
	PasswordReset  PasswordResetSettings `mapstructure:"password_reset"`
	RateLimit      RateLimitSettings     `mapstructure:"rate_limit"`
	BootstrapAdmin BootstrapAdminConfig  `mapstructure:"bootstrap_admin"`
}

// BootstrapAdminConfig optionally creates an admin account at start-up when none exists.
type BootstrapAdminConfig struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// PasswordResetSettings selects how forgotten passwords are handled.
type PasswordResetSettings struct {
	Mode string        `mapstructure:"mode"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// RateLimitSettings bounds unauthenticated auth endpoints per client IP.
type RateLimitSettings struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	AppName string     `mapstructure:"app_name"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// When file is non-empty it is read directly; otherwise config.yaml is searched in ./config and paths.
func LoadConfig(file string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath("./config")
		for _, path := range paths {
			v.AddConfigPath(path)
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("SOFTCENTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects enum values the rest of the application cannot act on.
func (c *Config) Validate() error {
	switch c.Snapshot.Source {
	case SnapshotSourceServer, SnapshotSourceClient:
	default:
		return fmt.Errorf("config: snapshot.source must be %q or %q, got %q", SnapshotSourceServer, SnapshotSourceClient, c.Snapshot.Source)
	}

	switch c.Auth.PasswordReset.Mode {
	case PasswordResetDirect, PasswordResetEmail, PasswordResetDisabled:
	default:
		return fmt.Errorf("config: auth.password_reset.mode %q is not supported", c.Auth.PasswordReset.Mode)
	}

	switch c.Cache.Driver {
	case CacheDriverDatabase, CacheDriverBolt, CacheDriverMemory:
	default:
		return fmt.Errorf("config: cache.driver %q is not supported", c.Cache.Driver)
	}

	switch c.Uploads.Storage {
	case StorageFilesystem:
	case StorageS3:
		if strings.TrimSpace(c.Uploads.S3.Bucket) == "" {
			return errors.New("config: uploads.s3.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("config: uploads.storage %q is not supported", c.Uploads.Storage)
	}

	return nil
}

// Enumerated configuration values.
const (
	SnapshotSourceServer = "server"
	SnapshotSourceClient = "client"

	PasswordResetDirect   = "direct"
	PasswordResetEmail    = "email"
	PasswordResetDisabled = "disabled"

	CacheDriverDatabase = "database"
	CacheDriverBolt     = "bolt"
	CacheDriverMemory   = "memory"

	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.cors_origin", []string{"*"})
	v.SetDefault("server.public_dir", "./public")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/softcenter.sqlite")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("cache.driver", CacheDriverDatabase)
	v.SetDefault("cache.bolt.path", "./data/cache.bolt")
	v.SetDefault("cache.bolt.timeout", "1s")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "softcenter")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")
	v.SetDefault("auth.password_reset.mode", PasswordResetDirect)
	v.SetDefault("auth.password_reset.ttl", "1h")
	v.SetDefault("auth.rate_limit.requests", 20)
	v.SetDefault("auth.rate_limit.window", "1m")
	v.SetDefault("auth.bootstrap_admin.name", "Administrator")

	v.SetDefault("snapshot.source", SnapshotSourceServer)
	v.SetDefault("snapshot.probe_timeout", "3s")

	v.SetDefault("ledger.seed_placeholders", false)
	v.SetDefault("ledger.stale_update_after", "30m")

	v.SetDefault("tasks.workers", 2)
	v.SetDefault("tasks.max_attempts", 3)
	v.SetDefault("tasks.task_timeout", "30s")
	v.SetDefault("tasks.poll_interval", "5s")
	v.SetDefault("tasks.retention", "168h")

	v.SetDefault("uploads.max_avatar_bytes", 5*1024*1024)
	v.SetDefault("uploads.storage", StorageFilesystem)
	v.SetDefault("uploads.dir", "uploads/avatars")
	v.SetDefault("uploads.s3.region", "us-east-1")

	v.SetDefault("email.app_name", "Software Center")
	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
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
