package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Paths    PathsConfig
	Database DatabaseConfig
	Whatsapp WhatsappConfig
	Sessions SessionsConfig
	Delivery DeliveryConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	Storages string
	Uploads  string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	SessionStore    string // "database" or "memory"; Valkey takes over when enabled
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type WhatsappConfig struct {
	LogLevel string
	OS       string
}

// SessionsConfig tunes the session lifecycle manager.
type SessionsConfig struct {
	InitTimeout        time.Duration
	QRExpiry           time.Duration
	GroupFetchTimeout  time.Duration
	GroupFetchAttempts int
	GroupFetchBackoff  time.Duration
	DestroyGrace       time.Duration
	AutoRetryDelay     time.Duration
	MaxAutoRetries     int
	FastPathWindow     time.Duration
}

// DeliveryConfig tunes the delivery queue and bulk sends.
type DeliveryConfig struct {
	InterTaskDelay time.Duration
	RetryDelay     time.Duration
	MaxAttempts    int
	SendTimeout    time.Duration
	DefaultStagger time.Duration
	MaxJitter      time.Duration
}

// Global provides access to the loaded configuration for the cmd layer.
var Global *Config

// LoadConfig loads configuration from a .env file (if any), environment variables or defaults.
func LoadConfig() (*Config, error) {
	if fileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			logrus.Warnf("[CONFIG] Could not load .env: %v", err)
		}
	}

	baseDir := getEnv("APP_BASE_DIR", "storages")

	var basicAuth []string
	if v := os.Getenv("APP_BASIC_AUTH"); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               getEnv("APP_PORT", "3001"),
		Debug:              getEnvBool("APP_DEBUG", false),
		Environment:        getEnv("APP_ENV", "development"),
		BasicAuth:          basicAuth,
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3001"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		Storages: baseDir,
		Uploads:  getEnv("PATH_UPLOADS", filepath.Join(baseDir, "uploads")),
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(pathsCfg.Storages, "broadcast.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		SessionStore:    getEnv("SESSION_STORE", "database"),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "azwap-broadcast:"),
	}

	waCfg := WhatsappConfig{
		LogLevel: getEnv("WHATSAPP_LOG_LEVEL", "ERROR"),
		OS:       getEnv("APP_OS", "AzielCf"),
	}

	sessionsCfg := SessionsConfig{
		InitTimeout:        getEnvDuration("SESSION_INIT_TIMEOUT_MS", 5*time.Minute),
		QRExpiry:           getEnvDuration("SESSION_QR_EXPIRY_MS", 5*time.Minute),
		GroupFetchTimeout:  getEnvDuration("SESSION_GROUP_FETCH_TIMEOUT_MS", 60*time.Second),
		GroupFetchAttempts: getEnvInt("SESSION_GROUP_FETCH_ATTEMPTS", 3),
		GroupFetchBackoff:  getEnvDuration("SESSION_GROUP_FETCH_BACKOFF_MS", 10*time.Second),
		DestroyGrace:       getEnvDuration("SESSION_DESTROY_GRACE_MS", 15*time.Second),
		AutoRetryDelay:     getEnvDuration("SESSION_AUTO_RETRY_DELAY_MS", 10*time.Second),
		MaxAutoRetries:     getEnvInt("SESSION_MAX_AUTO_RETRIES", 2),
		FastPathWindow:     getEnvDuration("SESSION_FAST_PATH_WINDOW_MS", 60*time.Second),
	}

	deliveryCfg := DeliveryConfig{
		InterTaskDelay: getEnvDuration("DELIVERY_INTER_TASK_DELAY_MS", time.Second),
		RetryDelay:     getEnvDuration("DELIVERY_RETRY_DELAY_MS", 3*time.Second),
		MaxAttempts:    getEnvInt("DELIVERY_MAX_ATTEMPTS", 2),
		SendTimeout:    getEnvDuration("DELIVERY_SEND_TIMEOUT_MS", 60*time.Second),
		DefaultStagger: getEnvDuration("DELIVERY_DEFAULT_STAGGER_MS", 3*time.Second),
		MaxJitter:      getEnvDuration("DELIVERY_MAX_JITTER_MS", 500*time.Millisecond),
	}

	cfg := &Config{
		App:      appCfg,
		Paths:    pathsCfg,
		Database: dbCfg,
		Whatsapp: waCfg,
		Sessions: sessionsCfg,
		Delivery: deliveryCfg,
	}

	Global = cfg
	return cfg, nil
}
