package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "ww-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Driver != StorageFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Payments.Timeout != 15*time.Second {
		t.Errorf("unexpected payment timeout: %s", cfg.Payments.Timeout)
	}
	if cfg.Orders.NumberPrefix != "ORD" {
		t.Errorf("unexpected order prefix: %s", cfg.Orders.NumberPrefix)
	}
	if cfg.PubSub.ProjectID != "ww-dev" || cfg.Secrets.ProjectID != "ww-dev" || cfg.Telemetry.GCPProjectID != "ww-dev" {
		t.Errorf("expected project ids to default to firestore project, got %+v %+v %+v", cfg.PubSub, cfg.Secrets, cfg.Telemetry)
	}
	if cfg.Idempotency.Backend != IdempotencyMemory || cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if !cfg.Postgres.AutoMigrate {
		t.Errorf("expected auto migrate on by default")
	}
	if cfg.Checkout.PlaceRateLimit != 0 || cfg.Checkout.PlaceRateWindow != time.Minute {
		t.Errorf("unexpected checkout throttle defaults: %+v", cfg.Checkout)
	}
	if cfg.Build.Version != "dev" || cfg.Build.CommitSHA != "unknown" {
		t.Errorf("unexpected build defaults: %+v", cfg.Build)
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_DRIVER":            "postgres",
		"API_POSTGRES_DSN":              "sm://postgres-dsn",
		"API_PSP_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "whsec_plain",
		"API_PAYMENT_TIMEOUT":           "5s",
		"API_IDEMPOTENCY_BACKEND":       "redis",
		"API_REDIS_ADDR":                "localhost:6379",
	}
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Postgres.DSN != "resolved:secret://postgres-dsn" {
		t.Errorf("expected sm:// reference normalised and resolved, got %s", cfg.Postgres.DSN)
	}
	if cfg.PSP.StripeAPIKey != "resolved:secret://stripe/api" {
		t.Errorf("unexpected stripe key %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "whsec_plain" {
		t.Errorf("plain values must not be resolved, got %s", cfg.PSP.StripeWebhookSecret)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 lookups, got %v", refs)
	}
	if cfg.Payments.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %s", cfg.Payments.Timeout)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "ww-dev",
		"API_PSP_STRIPE_API_KEY":   "secret://stripe/api",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_DRIVER":            "postgres",
		"API_IDEMPOTENCY_BACKEND":       "redis",
		"API_PAYMENT_CALLBACK_BASE_URL": "not a url",
		"API_CHECKOUT_PLACE_RATE_LIMIT": "-1",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"Postgres.DSN", "Redis.Addr", "Payments.CallbackBaseURL", "Checkout.PlaceRateLimit"} {
		if !slices.Contains(validationErr.Fields(), field) {
			t.Errorf("expected %s in %v", field, validationErr.Fields())
		}
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport API_STORAGE_DRIVER=memory\nAPI_SERVER_PORT=\"9191\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{"API_SERVER_PORT": "7000"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Errorf("expected memory driver from .env, got %s", cfg.Storage.Driver)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("env map must override .env, got %s", cfg.Server.Port)
	}
}
