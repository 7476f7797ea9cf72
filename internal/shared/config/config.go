package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Storage      StorageConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Encryption   EncryptionConfig
	Scheduler    SchedulerConfig
	TLS          TLSConfig
	OpenFinance  OpenFinanceConfig
	Certificates CertificatesConfig
	Firebase     FirebaseConfig
	Telemetry    TelemetryConfig
	Logging      LoggingConfig
	// MessagesFile overrides the embedded user-facing texts.
	MessagesFile string
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string
	// VerifierStore is "memory" or "redis".
	VerifierStore string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// BankConfig describes one supported bank and the response schema it speaks.
type BankConfig struct {
	Code          string
	Name          string
	SchemaVersion string
}

type OpenFinanceConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthBaseURL  string
	APIBaseURL   string
	DirectoryURL string
	Sandbox      bool

	RequestTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	RateLimit      int
	RateWindow     time.Duration

	ConsentExpirationDays int
	AuthorizationWindow   time.Duration
	SyncRangeDays         int
	PageSize              int
	DefaultSyncTime       string

	Banks []BankConfig
}

type CertificatesConfig struct {
	TransportCertPath string
	TransportKeyPath  string
	SigningCertPath   string
	SigningKeyPath    string
	CABundlePath      string
	PKCS12Path        string
	PKCS12Password    string
	WarningThreshold  time.Duration
}

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	OTLPInsecure bool
	MetricsPort  string
	SampleRatio  float64
}

type LoggingConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment variables")
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	// Parse scheduler configuration
	// Empty means connections are synced at their own sync time.
	schedulerTimes := splitList(getEnv("SCHEDULER_TIMES", ""))
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}

	// Parse Open Finance configuration
	requestTimeout, err := time.ParseDuration(getEnv("OFB_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_REQUEST_TIMEOUT: %w", err)
	}
	maxRetries, err := strconv.Atoi(getEnv("OFB_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_MAX_RETRIES: %w", err)
	}
	baseBackoff, err := time.ParseDuration(getEnv("OFB_BASE_BACKOFF", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_BASE_BACKOFF: %w", err)
	}
	rateLimit, err := strconv.Atoi(getEnv("OFB_RATE_LIMIT_REQUESTS", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_RATE_LIMIT_REQUESTS: %w", err)
	}
	rateWindow, err := time.ParseDuration(getEnv("OFB_RATE_LIMIT_WINDOW", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_RATE_LIMIT_WINDOW: %w", err)
	}
	consentDays, err := strconv.Atoi(getEnv("OFB_CONSENT_EXPIRATION_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_CONSENT_EXPIRATION_DAYS: %w", err)
	}
	authWindow, err := time.ParseDuration(getEnv("OFB_AUTHORIZATION_WINDOW", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_AUTHORIZATION_WINDOW: %w", err)
	}
	syncRangeDays, err := strconv.Atoi(getEnv("OFB_SYNC_RANGE_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_SYNC_RANGE_DAYS: %w", err)
	}
	pageSize, err := strconv.Atoi(getEnv("OFB_PAGE_SIZE", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_PAGE_SIZE: %w", err)
	}
	sampleRatio, err := strconv.ParseFloat(getEnv("OTEL_SAMPLE_RATIO", "1"), 64)
	if err != nil || sampleRatio < 0 || sampleRatio > 1 {
		return nil, fmt.Errorf("invalid OTEL_SAMPLE_RATIO: must be between 0 and 1")
	}
	banks, err := parseBanks(getEnv("OFB_BANKS", "001:Banco do Brasil:v1,341:Itau:v2,237:Bradesco:v1"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_BANKS: %w", err)
	}

	certWarning, err := time.ParseDuration(getEnv("OFB_CERT_WARNING_THRESHOLD", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFB_CERT_WARNING_THRESHOLD: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "")),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "ofbconnect"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ofbconnect"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			Driver:        getEnv("STORAGE_DRIVER", "postgres"),
			VerifierStore: getEnv("VERIFIER_STORE", "memory"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: schedulerTimes,
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		OpenFinance: OpenFinanceConfig{
			ClientID:              getEnv("OFB_CLIENT_ID", ""),
			ClientSecret:          getEnv("OFB_CLIENT_SECRET", ""),
			RedirectURI:           getEnv("OFB_REDIRECT_URI", ""),
			AuthBaseURL:           getEnv("OFB_AUTH_BASE_URL", "https://auth.sandbox.openfinancebrasil.org.br"),
			APIBaseURL:            getEnv("OFB_API_BASE_URL", "https://api.sandbox.openfinancebrasil.org.br"),
			DirectoryURL:          getEnv("OFB_DIRECTORY_URL", "https://directory.sandbox.openfinancebrasil.org.br"),
			Sandbox:               getBoolEnv("OFB_SANDBOX", true),
			RequestTimeout:        requestTimeout,
			MaxRetries:            maxRetries,
			BaseBackoff:           baseBackoff,
			RateLimit:             rateLimit,
			RateWindow:            rateWindow,
			ConsentExpirationDays: consentDays,
			AuthorizationWindow:   authWindow,
			SyncRangeDays:         syncRangeDays,
			PageSize:              pageSize,
			DefaultSyncTime:       getEnv("OFB_DEFAULT_SYNC_TIME", "06:00"),
			Banks:                 banks,
		},
		Certificates: CertificatesConfig{
			TransportCertPath: getEnv("OFB_TRANSPORT_CERT_PATH", ""),
			TransportKeyPath:  getEnv("OFB_TRANSPORT_KEY_PATH", ""),
			SigningCertPath:   getEnv("OFB_SIGNING_CERT_PATH", ""),
			SigningKeyPath:    getEnv("OFB_SIGNING_KEY_PATH", ""),
			CABundlePath:      getEnv("OFB_CA_BUNDLE_PATH", ""),
			PKCS12Path:        getEnv("OFB_PKCS12_PATH", ""),
			PKCS12Password:    getEnv("OFB_PKCS12_PASSWORD", ""),
			WarningThreshold:  certWarning,
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "ofbconnect-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			OTLPInsecure: getBoolEnv("OTEL_EXPORTER_INSECURE", true),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
			SampleRatio:  sampleRatio,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getBoolEnv("LOG_PRETTY", false),
		},
		MessagesFile: getEnv("MESSAGES_FILE", ""),
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if cfg.OpenFinance.ClientID == "" {
		return nil, fmt.Errorf("OFB_CLIENT_ID is required")
	}
	if cfg.OpenFinance.RedirectURI == "" {
		return nil, fmt.Errorf("OFB_REDIRECT_URI is required")
	}
	if cfg.OpenFinance.MaxRetries < 0 {
		return nil, fmt.Errorf("OFB_MAX_RETRIES must not be negative")
	}

	switch cfg.Storage.Driver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", cfg.Storage.Driver)
	}
	switch cfg.Storage.VerifierStore {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("VERIFIER_STORE must be memory or redis, got %q", cfg.Storage.VerifierStore)
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Bank returns the configuration for a bank code.
func (c *OpenFinanceConfig) Bank(code string) (BankConfig, bool) {
	for _, b := range c.Banks {
		if b.Code == code {
			return b, true
		}
	}
	return BankConfig{}, false
}

// parseBanks reads "code:name:schema" entries separated by commas.
func parseBanks(s string) ([]BankConfig, error) {
	var banks []BankConfig
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("bank entry %q must be code:name:schema", entry)
		}
		schema := strings.TrimSpace(parts[2])
		if schema != "v1" && schema != "v2" {
			return nil, fmt.Errorf("bank %s has unknown schema %q", parts[0], schema)
		}
		banks = append(banks, BankConfig{
			Code:          strings.TrimSpace(parts[0]),
			Name:          strings.TrimSpace(parts[1]),
			SchemaVersion: schema,
		})
	}
	return banks, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
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
