package config

import (
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("MONGODB_URL", "mongodb://localhost:27017")
	t.Setenv("CLERK_WEBHOOK_SECRET", "whsec_dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQ=")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test_stripe_secret")
	t.Setenv("CLERK_SECRET_KEY", "sk_test_clerk_key")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoURL != "mongodb://localhost:27017" {
		t.Errorf("MongoURL = %q, want %q", cfg.MongoURL, "mongodb://localhost:27017")
	}
	if cfg.ClerkWebhookSecret != "whsec_dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQ=" {
		t.Errorf("ClerkWebhookSecret = %q, want %q", cfg.ClerkWebhookSecret, "whsec_dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQ=")
	}
	if cfg.StripeWebhookSecret != "whsec_test_stripe_secret" {
		t.Errorf("StripeWebhookSecret = %q, want %q", cfg.StripeWebhookSecret, "whsec_test_stripe_secret")
	}
	if cfg.ClerkSecretKey != "sk_test_clerk_key" {
		t.Errorf("ClerkSecretKey = %q, want %q", cfg.ClerkSecretKey, "sk_test_clerk_key")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoDatabase != "imaginify" {
		t.Errorf("MongoDatabase = %q, want %q", cfg.MongoDatabase, "imaginify")
	}
	if cfg.ClerkAPITimeout != 10*time.Second {
		t.Errorf("ClerkAPITimeout = %v, want %v", cfg.ClerkAPITimeout, 10*time.Second)
	}
	if cfg.WebhookBodyLimit != 1048576 {
		t.Errorf("WebhookBodyLimit = %d, want %d", cfg.WebhookBodyLimit, 1048576)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.MetricsPort != "9090" {
		t.Errorf("MetricsPort = %q, want %q", cfg.MetricsPort, "9090")
	}
}

func TestLoad_OptionalValuesOverridden(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("MONGODB_DATABASE", "imaginify_test")
	t.Setenv("CLERK_API_TIMEOUT", "3s")
	t.Setenv("WEBHOOK_BODY_LIMIT", "2097152")
	t.Setenv("SERVER_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoDatabase != "imaginify_test" {
		t.Errorf("MongoDatabase = %q, want %q", cfg.MongoDatabase, "imaginify_test")
	}
	if cfg.ClerkAPITimeout != 3*time.Second {
		t.Errorf("ClerkAPITimeout = %v, want %v", cfg.ClerkAPITimeout, 3*time.Second)
	}
	if cfg.WebhookBodyLimit != 2097152 {
		t.Errorf("WebhookBodyLimit = %d, want %d", cfg.WebhookBodyLimit, 2097152)
	}
	if cfg.ServerPort != "9001" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "9001")
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	t.Setenv("MONGODB_URL", "")
	t.Setenv("CLERK_WEBHOOK_SECRET", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("CLERK_SECRET_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required vars")
	}
}

func TestLoad_MissingSigningSecretOnly_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when a signing secret is missing")
	}
}

func TestLoad_InvalidDuration_FallsBackToDefault(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("CLERK_API_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ClerkAPITimeout != 10*time.Second {
		t.Errorf("ClerkAPITimeout = %v, want default %v", cfg.ClerkAPITimeout, 10*time.Second)
	}
}
