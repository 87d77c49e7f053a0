// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PendingRequestのストアバックエンド。
const (
	PendingStorePostgres = "postgres"
	PendingStoreRedis    = "redis"
	PendingStoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Provider
	ProviderClientID   string
	ProviderAppSecret  string
	ProviderAuthURL    string
	ProviderTokenURL   string
	ProviderProfileURL string
	ProviderScope      string
	ProviderTimeout    time.Duration

	// Handshake
	CallbackPath      string
	PendingStore      string
	PendingRequestTTL time.Duration
	Verbose           bool

	// Redis
	RedisAddr string
	RedisDB   int

	// Cleanup
	CleanupInterval time.Duration

	// Rate Limit
	RateLimitLogin int

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の変数名をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ProviderClientID = os.Getenv("PROVIDER_CLIENT_ID")
	if cfg.ProviderClientID == "" {
		missing = append(missing, "PROVIDER_CLIENT_ID")
	}

	cfg.ProviderAppSecret = os.Getenv("PROVIDER_APP_SECRET")
	if cfg.ProviderAppSecret == "" {
		missing = append(missing, "PROVIDER_APP_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ProviderAuthURL = getEnvString("PROVIDER_AUTH_URL", "https://www.facebook.com/dialog/oauth")
	cfg.ProviderTokenURL = getEnvString("PROVIDER_TOKEN_URL", "https://graph.facebook.com/oauth/access_token")
	cfg.ProviderProfileURL = getEnvString("PROVIDER_PROFILE_URL", "https://graph.facebook.com/me")
	cfg.ProviderScope = getEnvString("PROVIDER_SCOPE", "email")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.CallbackPath = getEnvString("CALLBACK_PATH", "/login")
	cfg.PendingStore = strings.ToLower(getEnvString("PENDING_STORE", PendingStorePostgres))
	cfg.PendingRequestTTL = getEnvDuration("PENDING_REQUEST_TTL", 10*time.Minute)
	cfg.Verbose = getEnvBool("VERBOSE", false)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", true)
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	switch cfg.PendingStore {
	case PendingStorePostgres, PendingStoreRedis, PendingStoreMemory:
	default:
		return nil, fmt.Errorf("PENDING_STORE must be one of %s, %s, %s: got %q",
			PendingStorePostgres, PendingStoreRedis, PendingStoreMemory, cfg.PendingStore)
	}

	if !strings.HasPrefix(cfg.CallbackPath, "/") {
		return nil, fmt.Errorf("CALLBACK_PATH must start with \"/\": got %q", cfg.CallbackPath)
	}

	return cfg, nil
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
