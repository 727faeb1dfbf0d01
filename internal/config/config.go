package config

import (
	"strings"
	"time"
	_ "time/tzdata" // zone validation without a system zoneinfo

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Matching MatchingConfig `yaml:"matching" mapstructure:"matching"`
	Attempts AttemptsConfig `yaml:"attempts" mapstructure:"attempts"`
	Lock     LockConfig     `yaml:"lock" mapstructure:"lock"`
	Photos   PhotosConfig   `yaml:"photos" mapstructure:"photos"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	UploadRatePerMin  int      `yaml:"upload_rate_per_min" mapstructure:"upload_rate_per_min"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	ReadTimeoutSecs   int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	ShutdownTimeoutMs int      `yaml:"shutdown_timeout_ms" mapstructure:"shutdown_timeout_ms"`
}

// AuthConfig configures JWT session verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
}

// MatchingConfig tunes DCN-to-address resolution and batch classification.
type MatchingConfig struct {
	AutoMatchThreshold    float64 `yaml:"auto_match_threshold" mapstructure:"auto_match_threshold"`
	PendingReviewFloor    float64 `yaml:"pending_review_floor" mapstructure:"pending_review_floor"`
	StreetExactConfidence float64 `yaml:"street_exact_confidence" mapstructure:"street_exact_confidence"`
	StreetMinLength       int     `yaml:"street_min_length" mapstructure:"street_min_length"`
	FuzzyFloor            float64 `yaml:"fuzzy_floor" mapstructure:"fuzzy_floor"`
	MaxValidationErrors   int     `yaml:"max_validation_errors" mapstructure:"max_validation_errors"`
	RulesFile             string  `yaml:"rules_file" mapstructure:"rules_file"`
}

// AttemptsConfig configures the attempt qualifier classifier.
type AttemptsConfig struct {
	Timezone           string `yaml:"timezone" mapstructure:"timezone"`
	ServiceStartHour   int    `yaml:"service_start_hour" mapstructure:"service_start_hour"`
	ServiceEndHour     int    `yaml:"service_end_hour" mapstructure:"service_end_hour"`
	GPSTimeoutMs       int    `yaml:"gps_timeout_ms" mapstructure:"gps_timeout_ms"`
	CaptureLockWaitSec int    `yaml:"capture_lock_wait_secs" mapstructure:"capture_lock_wait_secs"`
}

// GPSTimeout returns the GPS acquisition budget.
func (a AttemptsConfig) GPSTimeout() time.Duration {
	return time.Duration(a.GPSTimeoutMs) * time.Millisecond
}

// LockConfig selects the per-address capture lock implementation.
type LockConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB   int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLSecs   int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// PhotosConfig selects where captured photos are stored.
type PhotosConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	LocalDir        string `yaml:"local_dir" mapstructure:"local_dir"`
	PublicBaseURL   string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// GeocodeConfig configures coordinate backfill during address import.
type GeocodeConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// RetryConfig configures retry for row persistence.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SERVEROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.upload_rate_per_min", 30)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.read_timeout_secs", 30)
	v.SetDefault("server.shutdown_timeout_ms", 10000)
	v.SetDefault("auth.issuer", "serveroute")
	v.SetDefault("matching.auto_match_threshold", 0.95)
	v.SetDefault("matching.pending_review_floor", 0.75)
	v.SetDefault("matching.street_exact_confidence", 0.92)
	v.SetDefault("matching.street_min_length", 5)
	v.SetDefault("matching.fuzzy_floor", 0.6)
	v.SetDefault("matching.max_validation_errors", 50)
	v.SetDefault("attempts.timezone", "America/Detroit")
	v.SetDefault("attempts.service_start_hour", 8)
	v.SetDefault("attempts.service_end_hour", 21)
	v.SetDefault("attempts.gps_timeout_ms", 3000)
	v.SetDefault("attempts.capture_lock_wait_secs", 10)
	v.SetDefault("lock.driver", "memory")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.ttl_secs", 10)
	v.SetDefault("photos.driver", "local")
	v.SetDefault("photos.local_dir", "./photos")
	v.SetDefault("photos.public_base_url", "http://localhost:8080/photos")
	v.SetDefault("geocode.enabled", false)
	v.SetDefault("geocode.rate_per_sec", 10.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9102)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "serve", "migrate", "import" or "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	m := c.Matching
	if m.AutoMatchThreshold <= 0 || m.AutoMatchThreshold > 1 {
		errs = append(errs, "matching.auto_match_threshold must be in (0,1]")
	}
	if m.PendingReviewFloor < 0 || m.PendingReviewFloor > m.AutoMatchThreshold {
		errs = append(errs, "matching.pending_review_floor must be in [0, auto_match_threshold]")
	}
	if m.FuzzyFloor < 0 || m.FuzzyFloor >= 1 {
		errs = append(errs, "matching.fuzzy_floor must be in [0,1)")
	}
	if m.StreetExactConfidence <= 0 || m.StreetExactConfidence > 1 {
		errs = append(errs, "matching.street_exact_confidence must be in (0,1]")
	}
	if m.MaxValidationErrors < 1 {
		errs = append(errs, "matching.max_validation_errors must be >= 1")
	}

	a := c.Attempts
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		errs = append(errs, "attempts.timezone is not a known zone")
	}
	if a.ServiceStartHour < 0 || a.ServiceEndHour > 24 || a.ServiceStartHour >= a.ServiceEndHour {
		errs = append(errs, "attempts service hours must satisfy 0 <= start < end <= 24")
	}

	switch c.Lock.Driver {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, "lock.redis_addr is required for redis")
		}
	default:
		errs = append(errs, "lock.driver must be memory or redis")
	}

	switch c.Photos.Driver {
	case "local":
	case "gcs":
		if c.Photos.Bucket == "" {
			errs = append(errs, "photos.bucket is required for gcs")
		}
	default:
		errs = append(errs, "photos.driver must be local or gcs")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwt_secret is required")
		}
		if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
			errs = append(errs, "metrics.port must differ from server.port")
		}
	case "migrate", "import", "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
