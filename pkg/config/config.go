package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	CORS           CORSConfig
	Log            LogConfig
	Lending        LendingConfig
	Maintenance    MaintenanceConfig
	Reconciliation ReconciliationConfig
	Export         ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LendingConfig tunes the scan transition pipeline.
type LendingConfig struct {
	// Atomic runs the item update and the ledger write in one database transaction.
	// When false the item is written first and the ledger write is retried separately.
	Atomic              bool
	LedgerRetryAttempts int
	LedgerRetryDelay    time.Duration
	ScanLockEnabled     bool
	ScanLockTTL         time.Duration
}

// MaintenanceConfig drives deadline classification.
type MaintenanceConfig struct {
	WarningHorizon time.Duration
	Timezone       string
	CacheEnabled   bool
	CacheTTL       time.Duration
}

// ReconciliationConfig schedules the ledger repair job.
type ReconciliationConfig struct {
	Enabled    bool
	Interval   time.Duration
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// ExportConfig bounds ledger exports.
type ExportConfig struct {
	MaxRows int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	attempts := v.GetInt("LEDGER_RETRY_ATTEMPTS")
	if attempts <= 0 {
		attempts = 3
	}
	cfg.Lending = LendingConfig{
		Atomic:              v.GetBool("LENDING_ATOMIC"),
		LedgerRetryAttempts: attempts,
		LedgerRetryDelay:    parseDuration(v.GetString("LEDGER_RETRY_DELAY"), 200*time.Millisecond),
		ScanLockEnabled:     v.GetBool("ENABLE_SCAN_LOCK"),
		ScanLockTTL:         parseDuration(v.GetString("SCAN_LOCK_TTL"), 10*time.Second),
	}

	days := v.GetInt("MAINTENANCE_WARNING_DAYS")
	if days <= 0 {
		days = 30
	}
	cfg.Maintenance = MaintenanceConfig{
		WarningHorizon: time.Duration(days) * 24 * time.Hour,
		Timezone:       v.GetString("MAINTENANCE_TIMEZONE"),
		CacheEnabled:   v.GetBool("ENABLE_MAINTENANCE_CACHE"),
		CacheTTL:       parseDuration(v.GetString("MAINTENANCE_CACHE_TTL"), 6*time.Hour),
	}

	cfg.Reconciliation = ReconciliationConfig{
		Enabled:    v.GetBool("ENABLE_RECONCILIATION"),
		Interval:   parseDuration(v.GetString("RECONCILIATION_INTERVAL"), 24*time.Hour),
		Workers:    v.GetInt("RECONCILIATION_WORKERS"),
		MaxRetries: v.GetInt("RECONCILIATION_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("RECONCILIATION_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Export = ExportConfig{MaxRows: v.GetInt("EXPORT_MAX_ROWS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "asset_lending")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "asset-lending-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LENDING_ATOMIC", true)
	v.SetDefault("LEDGER_RETRY_ATTEMPTS", 3)
	v.SetDefault("LEDGER_RETRY_DELAY", "200ms")
	v.SetDefault("ENABLE_SCAN_LOCK", true)
	v.SetDefault("SCAN_LOCK_TTL", "10s")

	v.SetDefault("MAINTENANCE_WARNING_DAYS", 30)
	v.SetDefault("MAINTENANCE_TIMEZONE", "UTC")
	v.SetDefault("ENABLE_MAINTENANCE_CACHE", true)
	v.SetDefault("MAINTENANCE_CACHE_TTL", "6h")

	v.SetDefault("ENABLE_RECONCILIATION", true)
	v.SetDefault("RECONCILIATION_INTERVAL", "24h")
	v.SetDefault("RECONCILIATION_WORKERS", 1)
	v.SetDefault("RECONCILIATION_MAX_RETRIES", 5)
	v.SetDefault("RECONCILIATION_RETRY_DELAY", "30s")

	v.SetDefault("EXPORT_MAX_ROWS", 5000)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
