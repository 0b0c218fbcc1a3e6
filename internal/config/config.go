// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	// EXPIRE_TIMEZONE をOSのタイムゾーンデータに依存せず解決する
	_ "time/tzdata"
)

// backendAddressPattern は新パネルのアドレス形式（scheme://host-or-ip:port）。
var backendAddressPattern = regexp.MustCompile(`^(https?://)((([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,})|(\d{1,3}(\.\d{1,3}){3})):\d{1,5}$`)

// ErrInvalidBackendAddress はBACKEND_ADDRESSの形式が不正な場合のエラー。
var ErrInvalidBackendAddress = errors.New("BACKEND_ADDRESS must look like scheme://host-or-ip:port")

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendAddress   string
	BackendUsername  string
	BackendPassword  string
	BackendTimeout   time.Duration
	BackendRateLimit float64
	AdminRetryDelay  time.Duration

	// Legacy
	LegacyJWTSecret        string
	LegacySubscriptionPath string
	LegacyExportPath       string
	ExceptionsPath         string

	// Migration
	ExpireTimezone string
	ExpireLocation *time.Location

	// Gateway
	SubscriptionURLPrefix string
	RateLimitSubscription int
	CORSAllowedOrigin     string

	// Credential store
	DatabaseURL          string
	TokenRefreshInterval time.Duration

	// Server
	ServerPort string

	// Logging
	LogLevel string
	LogFile  string
}

// Load は環境変数からConfigを読み込む。
// 全コマンド共通の必須環境変数が未設定の場合は、不足しているものをすべて列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BackendAddress = os.Getenv("BACKEND_ADDRESS")
	if cfg.BackendAddress == "" {
		missing = append(missing, "BACKEND_ADDRESS")
	}

	cfg.BackendUsername = os.Getenv("BACKEND_USERNAME")
	if cfg.BackendUsername == "" {
		missing = append(missing, "BACKEND_USERNAME")
	}

	cfg.BackendPassword = os.Getenv("BACKEND_PASSWORD")
	if cfg.BackendPassword == "" {
		missing = append(missing, "BACKEND_PASSWORD")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !backendAddressPattern.MatchString(cfg.BackendAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackendAddress, cfg.BackendAddress)
	}

	// Optional fields with defaults
	cfg.LegacyJWTSecret = os.Getenv("LEGACY_JWT_SECRET")
	cfg.LegacySubscriptionPath = strings.Trim(os.Getenv("LEGACY_SUBSCRIPTION_PATH"), "/")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.LegacyExportPath = getEnvString("LEGACY_EXPORT_PATH", "marzban.json")
	cfg.ExceptionsPath = getEnvString("EXCEPTIONS_PATH", "exceptions.json")
	cfg.SubscriptionURLPrefix = strings.TrimRight(getEnvString("SUBSCRIPTION_URL_PREFIX", cfg.BackendAddress), "/")
	cfg.ExpireTimezone = getEnvString("EXPIRE_TIMEZONE", "Asia/Tehran")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TokenRefreshInterval = getEnvDuration("TOKEN_REFRESH_INTERVAL", time.Hour)
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 30*time.Second)
	cfg.BackendRateLimit = getEnvFloat("BACKEND_RATE_LIMIT", 10)
	cfg.AdminRetryDelay = getEnvDuration("ADMIN_RETRY_DELAY", 2*time.Second)
	cfg.RateLimitSubscription = getEnvInt("RATE_LIMIT_SUBSCRIPTION", 60)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("LOG_FILE")

	loc, err := time.LoadLocation(cfg.ExpireTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRE_TIMEZONE %q: %w", cfg.ExpireTimezone, err)
	}
	cfg.ExpireLocation = loc

	return cfg, nil
}

// ValidateServe はゲートウェイの起動に必要な環境変数がそろっているかを検証する。
func (c *Config) ValidateServe() error {
	var missing []string
	if c.LegacyJWTSecret == "" {
		missing = append(missing, "LEGACY_JWT_SECRET")
	}
	if c.LegacySubscriptionPath == "" {
		missing = append(missing, "LEGACY_SUBSCRIPTION_PATH")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return nil
}

// ValidateStore は認証情報ストアを使うコマンドに必要な環境変数を検証する。
func (c *Config) ValidateStore() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}
	return nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
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
