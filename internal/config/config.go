// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseKind は接続先ドキュメントストアの種別を表す。
type DatabaseKind string

const (
	// DatabasePostgres はPostgreSQL（JSONB埋め込みノート）を使用する。
	DatabasePostgres DatabaseKind = "postgres"
	// DatabaseMongo はMongoDBを使用する。
	DatabaseMongo DatabaseKind = "mongodb"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL   string
	DatabaseKind  DatabaseKind
	MongoDatabase string

	// Session
	SessionSecret       string
	SessionMaxAge       time.Duration
	SessionRefreshAfter time.Duration

	// Upload
	UploadDir         string
	UploadURLPrefix   string
	UploadMaxBytes    int64
	UploadOrphanGrace time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// CSRF
	CSRFEnabled bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if cfg.DatabaseURL != "" {
		kind, err := DetectDatabaseKind(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		cfg.DatabaseKind = kind
	}

	cfg.MongoDatabase = os.Getenv("MONGODB_DATABASE")
	if cfg.DatabaseKind == DatabaseMongo && cfg.MongoDatabase == "" {
		missing = append(missing, "MONGODB_DATABASE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 30*24*time.Hour)
	cfg.SessionRefreshAfter = getEnvDuration("SESSION_REFRESH_AFTER", 24*time.Hour)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "public/uploads")
	cfg.UploadURLPrefix = strings.TrimSuffix(getEnvString("UPLOAD_URL_PREFIX", "/uploads"), "/")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 10<<20)
	cfg.UploadOrphanGrace = getEnvDuration("UPLOAD_ORPHAN_GRACE", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", true)

	return cfg, nil
}

// DetectDatabaseKind は接続URLのスキームからドキュメントストアの種別を判定する。
func DetectDatabaseKind(databaseURL string) (DatabaseKind, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DatabasePostgres, nil
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return DatabaseMongo, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", schemeOf(databaseURL))
	}
}

func schemeOf(u string) string {
	if i := strings.Index(u, "://"); i > 0 {
		return u[:i]
	}
	return "(none)"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
