package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Teller     TellerConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Migrate         bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type TellerConfig struct {
	BaseURL          string
	CertPath         string
	KeyPath          string
	Timeout          time.Duration
	WebhookSecrets   []string
	WebhookTolerance time.Duration
}

// CacheConfig holds the response cache TTL per upstream resource kind.
type CacheConfig struct {
	AccountsTTL     time.Duration
	TransactionsTTL time.Duration
	BalancesTTL     time.Duration
	DetailsTTL      time.Duration
}

type RateLimitConfig struct {
	GlobalPerMinute  int
	GlobalConcurrent int
	UserPerMinute    int
	UserConcurrent   int
}

type SyncConfig struct {
	BatchSize        int
	BatchPause       time.Duration
	LookbackDays     int
	BufferDays       int
	TransactionCount int
}

type SchedulerConfig struct {
	Enabled      bool
	Interval     time.Duration
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	RunOnStartup bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type FirebaseConfig struct {
	CredentialsFile string
	MessagesFile    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
	SampleRatio  float64
}

func Load() (*Config, error) {
	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	maxOpenConns, err := getIntEnv("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	maxIdleConns, err := getIntEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	tellerTimeout, err := getDurationEnv("TELLER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	webhookTolerance, err := getDurationEnv("TELLER_WEBHOOK_TOLERANCE", 3*time.Minute)
	if err != nil {
		return nil, err
	}

	// Cache TTLs per resource kind
	accountsTTL, err := getDurationEnv("CACHE_TTL_ACCOUNTS", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	transactionsTTL, err := getDurationEnv("CACHE_TTL_TRANSACTIONS", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	balancesTTL, err := getDurationEnv("CACHE_TTL_BALANCES", time.Minute)
	if err != nil {
		return nil, err
	}
	detailsTTL, err := getDurationEnv("CACHE_TTL_DETAILS", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	// Rate limits
	globalPerMinute, err := getIntEnv("RATE_GLOBAL_PER_MINUTE", 100)
	if err != nil {
		return nil, err
	}
	globalConcurrent, err := getIntEnv("RATE_GLOBAL_CONCURRENT", 10)
	if err != nil {
		return nil, err
	}
	userPerMinute, err := getIntEnv("RATE_USER_PER_MINUTE", 30)
	if err != nil {
		return nil, err
	}
	userConcurrent, err := getIntEnv("RATE_USER_CONCURRENT", 3)
	if err != nil {
		return nil, err
	}

	// Sync tuning
	batchSize, err := getIntEnv("SYNC_BATCH_SIZE", 3)
	if err != nil {
		return nil, err
	}
	batchPause, err := getDurationEnv("SYNC_BATCH_PAUSE", time.Second)
	if err != nil {
		return nil, err
	}
	lookbackDays, err := getIntEnv("SYNC_LOOKBACK_DAYS", 30)
	if err != nil {
		return nil, err
	}
	bufferDays, err := getIntEnv("SYNC_BUFFER_DAYS", 1)
	if err != nil {
		return nil, err
	}
	txCount, err := getIntEnv("SYNC_TRANSACTION_COUNT", 500)
	if err != nil {
		return nil, err
	}

	sampleRatio, err := getFloatEnv("OTEL_SAMPLE_RATIO", 1.0)
	if err != nil {
		return nil, err
	}

	// Scheduler
	schedulerInterval, err := getDurationEnv("SCHEDULER_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: getListEnv("ALLOWED_HOSTS"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "bankfeed"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "bankfeed"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			Migrate:         getBoolEnv("DB_MIGRATE", true),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Teller: TellerConfig{
			BaseURL:          getEnv("TELLER_BASE_URL", "https://api.teller.io"),
			CertPath:         getEnv("TELLER_CERT_PATH", ""),
			KeyPath:          getEnv("TELLER_KEY_PATH", ""),
			Timeout:          tellerTimeout,
			WebhookSecrets:   getListEnv("TELLER_WEBHOOK_SECRETS"),
			WebhookTolerance: webhookTolerance,
		},
		Cache: CacheConfig{
			AccountsTTL:     accountsTTL,
			TransactionsTTL: transactionsTTL,
			BalancesTTL:     balancesTTL,
			DetailsTTL:      detailsTTL,
		},
		RateLimit: RateLimitConfig{
			GlobalPerMinute:  globalPerMinute,
			GlobalConcurrent: globalConcurrent,
			UserPerMinute:    userPerMinute,
			UserConcurrent:   userConcurrent,
		},
		Sync: SyncConfig{
			BatchSize:        batchSize,
			BatchPause:       batchPause,
			LookbackDays:     lookbackDays,
			BufferDays:       bufferDays,
			TransactionCount: txCount,
		},
		Scheduler: SchedulerConfig{
			Enabled:      getBoolEnv("SCHEDULER_ENABLED", true),
			Interval:     schedulerInterval,
			WorkerCount:  schedulerWorkers,
			JobDelay:     schedulerJobDelay,
			QueueSize:    schedulerQueueSize,
			RunOnStartup: getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			MessagesFile:    getEnv("MESSAGES_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "bankfeed"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
			SampleRatio:  sampleRatio,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if len(c.Teller.WebhookSecrets) == 0 {
		return fmt.Errorf("TELLER_WEBHOOK_SECRETS is required")
	}
	if (c.Teller.CertPath == "") != (c.Teller.KeyPath == "") {
		return fmt.Errorf("TELLER_CERT_PATH and TELLER_KEY_PATH must be set together")
	}
	if c.Database.MaxOpenConns <= 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive and DB_MAX_IDLE_CONNS non-negative")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}
	if c.Sync.LookbackDays <= 0 || c.Sync.BufferDays < 0 {
		return fmt.Errorf("SYNC_LOOKBACK_DAYS must be positive and SYNC_BUFFER_DAYS non-negative")
	}
	if c.RateLimit.GlobalPerMinute <= 0 || c.RateLimit.GlobalConcurrent <= 0 ||
		c.RateLimit.UserPerMinute <= 0 || c.RateLimit.UserConcurrent <= 0 {
		return fmt.Errorf("rate limit ceilings must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getListEnv splits a comma-separated variable, dropping empty entries.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
