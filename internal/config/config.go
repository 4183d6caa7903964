package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	MongoURL      string
	MongoDatabase string

	// Webhook署名シークレット
	ClerkWebhookSecret  string
	StripeWebhookSecret string

	// Clerk API（メタデータ書き戻し用）
	ClerkSecretKey  string
	ClerkAPITimeout time.Duration

	// Webhook
	WebhookBodyLimit int64

	// Server
	ServerPort  string
	MetricsPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 署名シークレットの欠落は起動時の致命的エラーとする（検証の無効化を防ぐ）。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.MongoURL = os.Getenv("MONGODB_URL")
	if cfg.MongoURL == "" {
		missing = append(missing, "MONGODB_URL")
	}

	cfg.ClerkWebhookSecret = os.Getenv("CLERK_WEBHOOK_SECRET")
	if cfg.ClerkWebhookSecret == "" {
		missing = append(missing, "CLERK_WEBHOOK_SECRET")
	}

	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	if cfg.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}

	cfg.ClerkSecretKey = os.Getenv("CLERK_SECRET_KEY")
	if cfg.ClerkSecretKey == "" {
		missing = append(missing, "CLERK_SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGODB_DATABASE", "imaginify")
	cfg.ClerkAPITimeout = getEnvDuration("CLERK_API_TIMEOUT", 10*time.Second)
	cfg.WebhookBodyLimit = getEnvInt64("WEBHOOK_BODY_LIMIT", 1048576)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
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
