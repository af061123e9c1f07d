package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the service reads from the environment.
// LoadConfig is the single entry point; the rest of the code receives the
// struct (or a section of it) explicitly instead of reading env vars ad hoc.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	JWT           JWTConfig
	Auth          AuthConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers             []string
	SecurityEventsTopic string
}

type ClickhouseConfig struct {
	URL        string
	Database   string
	Username   string
	Password   string
	AuditTable string
}

type ElasticsearchConfig struct {
	URL          string
	Username     string
	Password     string
	SessionIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type JWTConfig struct {
	Secret string
}

// AuthConfig carries the lifecycle knobs of the authentication core.
type AuthConfig struct {
	MagicLinkValidity    time.Duration
	SessionLifetime      time.Duration
	SessionRetentionDays int
	MaintenanceInterval  time.Duration
	FingerprintTolerance float64
	LoginRateLimit       int
	LoginRateWindow      time.Duration
	LoginLinkBaseURL     string
	UserBuckets          int
	EventBuckets         int
}

var global *Config

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/autocert"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "ssc_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:             getEnvList("KAFKA_BROKERS", "localhost:9092"),
			SecurityEventsTopic: getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "auth.security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:        getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database:   getEnv("CLICKHOUSE_DATABASE", "ssc_audit"),
			Username:   getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
			AuditTable: getEnv("CLICKHOUSE_AUDIT_TABLE", "auth_events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:          getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:     getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:     getEnv("ELASTICSEARCH_PASSWORD", ""),
			SessionIndex: getEnv("ELASTICSEARCH_SESSION_INDEX", "user-sessions"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Auth: AuthConfig{
			MagicLinkValidity:    getEnvDuration("AUTH_MAGIC_LINK_VALIDITY", 15*time.Minute),
			SessionLifetime:      getEnvDuration("AUTH_SESSION_LIFETIME", 24*time.Hour),
			SessionRetentionDays: getEnvInt("AUTH_SESSION_RETENTION_DAYS", 30),
			MaintenanceInterval:  getEnvDuration("AUTH_MAINTENANCE_INTERVAL", time.Hour),
			FingerprintTolerance: getEnvFloat("AUTH_FINGERPRINT_TOLERANCE", 0.8),
			LoginRateLimit:       getEnvInt("AUTH_LOGIN_RATE_LIMIT", 5),
			LoginRateWindow:      getEnvDuration("AUTH_LOGIN_RATE_WINDOW", 15*time.Minute),
			LoginLinkBaseURL:     getEnv("AUTH_LOGIN_LINK_BASE_URL", "https://localhost:8443/auth/verify"),
			UserBuckets:          getEnvInt("AUTH_USER_BUCKETS", 100),
			EventBuckets:         getEnvInt("AUTH_EVENT_BUCKETS", 50),
		},
	}

	global = cfg
	return cfg
}

// Get returns the last loaded config. LoadConfig must run first; callers that
// can take the struct explicitly should prefer that over Get.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate rejects configurations that cannot safely serve traffic.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.MagicLinkValidity <= 0 {
		return fmt.Errorf("AUTH_MAGIC_LINK_VALIDITY must be positive")
	}
	if c.Auth.SessionLifetime <= 0 {
		return fmt.Errorf("AUTH_SESSION_LIFETIME must be positive")
	}
	if c.Auth.SessionRetentionDays <= 0 {
		return fmt.Errorf("AUTH_SESSION_RETENTION_DAYS must be positive")
	}
	if c.Auth.FingerprintTolerance < 0 || c.Auth.FingerprintTolerance > 1 {
		return fmt.Errorf("AUTH_FINGERPRINT_TOLERANCE must be within [0,1]")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
