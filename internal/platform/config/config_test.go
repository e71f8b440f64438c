package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsInLocalMode(t *testing.T) {
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.InMemory() {
		t.Fatalf("expected in-memory mode without a firestore project")
	}
	if cfg.Engine.MinimumOrderAmount != defaultMinOrderAmount {
		t.Fatalf("min order amount = %d", cfg.Engine.MinimumOrderAmount)
	}
	if cfg.Engine.OnlineTxTimeout != defaultOnlineTxTimeout {
		t.Fatalf("online tx timeout = %s", cfg.Engine.OnlineTxTimeout)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Fatalf("idempotency header = %q", cfg.Idempotency.Header)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("ORDER_ENGINE_MIN_ORDER_AMOUNT=700\nORDER_ENGINE_SWEEP_INTERVAL=2m\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(envFile),
		WithEnvMap(map[string]string{"ORDER_ENGINE_MIN_ORDER_AMOUNT": "900"}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MinimumOrderAmount != 900 {
		t.Fatalf("expected explicit map to win, got %d", cfg.Engine.MinimumOrderAmount)
	}
	if cfg.Engine.SweepInterval != 2*time.Minute {
		t.Fatalf("expected .env value, got %s", cfg.Engine.SweepInterval)
	}
}

func TestLoadRequiresFirestoreOutsideLocal(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""),
		WithEnvMap(map[string]string{"ORDER_ENGINE_ENV": "prod"}))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0] != "Firestore.ProjectID" {
		t.Fatalf("unexpected fields %v", vErr.Fields)
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "secret://stripe/webhook":
			return "whsec_123", nil
		case "secret://webhooks/acme":
			return "acme-secret", nil
		}
		return "", errors.New("unknown")
	})

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"ORDER_ENGINE_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
			"ORDER_ENGINE_WEBHOOK_SECRETS":       "acme=secret://webhooks/acme, broken",
		}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Payments.StripeWebhookSecret != "whsec_123" {
		t.Fatalf("stripe secret = %q", cfg.Payments.StripeWebhookSecret)
	}
	if cfg.Webhooks.Secrets["acme"] != "acme-secret" || len(cfg.Webhooks.Secrets) != 1 {
		t.Fatalf("webhook secrets = %v", cfg.Webhooks.Secrets)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""),
		WithEnvMap(map[string]string{"ORDER_ENGINE_STRIPE_API_KEY": "secret://stripe/key"}))
	var sErr *SecretError
	if !errors.As(err, &sErr) || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected secret error, got %v", err)
	}
}
