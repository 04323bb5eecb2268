// Package config はアプリケーション全体の設定を提供する。
package config

import (
	"fmt"
	"os"
	"time"
)

const (
	// CheckIntervalMin は定期チェック間隔の下限。
	CheckIntervalMin = 5 * time.Minute
	// CheckIntervalMax は定期チェック間隔の上限。
	CheckIntervalMax = 24 * time.Hour
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Vault
	VaultKey string

	// Platform
	IdPLoginURL     string
	PlatformBaseURL string

	// Delivery
	WebhookURL string

	// Check
	CheckInterval time.Duration // 定期チェック間隔（[5m,24h]に丸める）
	IdentityDelay time.Duration // identity間の待機時間
	FetchTimeout  time.Duration
	SettleDelay   time.Duration // 通知ストリーム2回呼び出し間の待機時間

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.VaultKey = os.Getenv("VAULT_KEY")
	if cfg.VaultKey == "" {
		missing = append(missing, "VAULT_KEY")
	}

	cfg.IdPLoginURL = os.Getenv("IDP_LOGIN_URL")
	if cfg.IdPLoginURL == "" {
		missing = append(missing, "IDP_LOGIN_URL")
	}

	cfg.PlatformBaseURL = os.Getenv("PLATFORM_BASE_URL")
	if cfg.PlatformBaseURL == "" {
		missing = append(missing, "PLATFORM_BASE_URL")
	}

	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	if cfg.WebhookURL == "" {
		missing = append(missing, "WEBHOOK_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CheckInterval = clampInterval(getEnvDuration("CHECK_INTERVAL", 30*time.Minute))
	cfg.IdentityDelay = getEnvDuration("IDENTITY_DELAY", 30*time.Second)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.SettleDelay = getEnvDuration("SETTLE_DELAY", 3*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// clampInterval は定期チェック間隔を運用上妥当な範囲[5m,24h]に丸める。
func clampInterval(d time.Duration) time.Duration {
	if d < CheckIntervalMin {
		return CheckIntervalMin
	}
	if d > CheckIntervalMax {
		return CheckIntervalMax
	}
	return d
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
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
