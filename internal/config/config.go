package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	ICE       ICEConfig
	Email     EmailConfig
	Gemini    GeminiConfig
	Upload    UploadConfig
}

type ServerConfig struct {
	Port    string
	GinMode string
	// RequestTimeout bounds ordinary HTTP handlers; minutes generation
	// uses MinutesTimeout instead.
	RequestTimeout time.Duration
	MinutesTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	// URL, when set, overrides the discrete fields.
	URL string
}

type JWTConfig struct {
	Secret             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type CORSConfig struct {
	// ClientURL is the single origin allowed to call the API.
	ClientURL string
	MaxAge    int
}

type LoggingConfig struct {
	Level      string
	Format     string // "json" or "text"
	Output     string // "stdout", "file", or "both"
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled bool
	// Global IP limit: 1000 requests per 15 minutes by default.
	GeneralRequests int
	GeneralWindow   time.Duration
	// Auth endpoints are limited harder to slow credential stuffing.
	AuthRequests int
	AuthWindow   time.Duration
}

type ICEConfig struct {
	STUNServers    []string
	TURNServerURL  string
	TURNUsername   string
	TURNCredential string
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SendTimeout bounds one SMTP submission.
	SendTimeout time.Duration
}

type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

type UploadConfig struct {
	Dir              string
	MaxChatFileBytes int64
	MaxRecordingBytes int64
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			GinMode:        getEnv("GIN_MODE", "debug"),
			RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 10*time.Second),
			MinutesTimeout: getDurationEnv("MINUTES_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "confera"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "confera_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			URL:      getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret:             getEnv("JWT_SECRET", "change-me-in-production"),
			AccessTokenExpiry:  getDurationEnv("JWT_ACCESS_TOKEN_EXPIRY", 7*24*time.Hour),
			RefreshTokenExpiry: getDurationEnv("JWT_REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
		},
		CORS: CORSConfig{
			ClientURL: getEnv("CLIENT_URL", "http://localhost:5173"),
			MaxAge:    getIntEnv("CORS_MAX_AGE", 86400),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "text"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			FilePath:   getEnv("LOG_FILE_PATH", "./logs/app.log"),
			MaxSize:    getIntEnv("LOG_MAX_SIZE", 100),
			MaxBackups: getIntEnv("LOG_MAX_BACKUPS", 10),
			MaxAge:     getIntEnv("LOG_MAX_AGE", 30),
			Compress:   getBoolEnv("LOG_COMPRESS", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getBoolEnv("RATE_LIMIT_ENABLED", true),
			GeneralRequests: getIntEnv("RATE_LIMIT_GENERAL_REQUESTS", 1000),
			GeneralWindow:   getDurationEnv("RATE_LIMIT_GENERAL_WINDOW", 15*time.Minute),
			AuthRequests:    getIntEnv("RATE_LIMIT_AUTH_REQUESTS", 5),
			AuthWindow:      getDurationEnv("RATE_LIMIT_AUTH_WINDOW", time.Minute),
		},
		ICE: ICEConfig{
			STUNServers: getStringSliceEnv("STUN_SERVERS", []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			}),
			TURNServerURL:  getEnv("TURN_SERVER_URL", ""),
			TURNUsername:   getEnv("TURN_USERNAME", ""),
			TURNCredential: getEnv("TURN_CREDENTIAL", ""),
		},
		Email: EmailConfig{
			Host:        getEnv("EMAIL_HOST", ""),
			Port:        getIntEnv("EMAIL_PORT", 587),
			Username:    getEnv("EMAIL_USER", ""),
			Password:    getEnv("EMAIL_PASS", ""),
			From:        getEnv("EMAIL_FROM", "Confera <no-reply@confera.app>"),
			SendTimeout: getDurationEnv("EMAIL_SEND_TIMEOUT", 30*time.Second),
		},
		Gemini: GeminiConfig{
			APIKey:   getEnv("GEMINI_API_KEY", ""),
			Model:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			Endpoint: getEnv("GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta"),
			Timeout:  getDurationEnv("GEMINI_TIMEOUT", 55*time.Second),
		},
		Upload: UploadConfig{
			Dir:               getEnv("UPLOAD_DIR", "./uploads"),
			MaxChatFileBytes:  int64(getIntEnv("MAX_CHAT_FILE_MB", 10)) * 1024 * 1024,
			MaxRecordingBytes: int64(getIntEnv("MAX_RECORDING_MB", 500)) * 1024 * 1024,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		items := []string{}
		for _, item := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(item)
			if trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return items
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
