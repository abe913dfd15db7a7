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

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID":  "hf-dev",
		"API_CHECKOUT_SUCCESS_URL": "https://shop.example.com/orders/{ORDER_ID}/complete",
		"API_CHECKOUT_CANCEL_URL":  "https://shop.example.com/orders/{ORDER_ID}",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "hf-dev" || cfg.Transport.PubSub.ProjectID != "hf-dev" {
		t.Errorf("expected project ids to default to firebase project, got %+v", cfg)
	}
	if cfg.Backend.Kind != BackendFirestore || cfg.Transport.Kind != TransportPubSub {
		t.Errorf("unexpected default backend/transport %s/%s", cfg.Backend.Kind, cfg.Transport.Kind)
	}
	if cfg.Transport.PubSub.SettlementsTopic != "payment-settlements" {
		t.Errorf("unexpected settlements topic %s", cfg.Transport.PubSub.SettlementsTopic)
	}
	if cfg.Payments.AutoCheckout {
		t.Error("expected auto checkout to default to false")
	}
	if cfg.Orders.MaxPageSize != 100 || cfg.Orders.IdempotencyTTL != 24*time.Hour {
		t.Errorf("unexpected order defaults %+v", cfg.Orders)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("unexpected oidc defaults %+v", cfg.Security.OIDC)
	}
	if cfg.Notifications.SMTP.Port != 587 {
		t.Errorf("unexpected smtp port %d", cfg.Notifications.SMTP.Port)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_BACKEND"] = "POSTGRES"
	env["API_POSTGRES_DSN"] = "sm://orders/dsn"
	env["API_TRANSPORT"] = "nats"
	env["API_NATS_URL"] = "nats://127.0.0.1:4222"
	env["API_STRIPE_API_KEY"] = "secret://stripe/api"
	env["API_STRIPE_WEBHOOK_SECRET"] = "whsec_plain"
	env["API_CHECKOUT_AUTO"] = "yes"
	env["API_SECURITY_OIDC_ISSUERS"] = "https://a.example.com, https://b.example.com"

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Backend.Kind != BackendPostgres || cfg.Backend.PostgresDSN != "resolved:secret://orders/dsn" {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Payments.StripeAPIKey != "resolved:secret://stripe/api" || cfg.Payments.StripeWebhookSecret != "whsec_plain" {
		t.Errorf("unexpected payments %+v", cfg.Payments)
	}
	if !cfg.Payments.AutoCheckout {
		t.Error("expected auto checkout enabled")
	}
	if !slices.Equal(cfg.Security.OIDC.Issuers, []string{"https://a.example.com", "https://b.example.com"}) {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if len(refs) != 2 {
		t.Errorf("expected two secret lookups, got %v", refs)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["API_STRIPE_API_KEY"] = "secret://stripe/api"

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
		"API_BACKEND":   "postgres",
		"API_TRANSPORT": "carrier-pigeon",
		"API_SMTP_HOST": "smtp.example.com",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{
		"Firebase.ProjectID",
		"Payments.SuccessURL",
		"Payments.CancelURL",
		"Backend.PostgresDSN",
		"Transport.Kind",
		"Notifications.SMTP.From",
	}
	if !slices.Equal(validation.Fields(), want) {
		t.Fatalf("expected fields %v, got %v", want, validation.Fields())
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "API_FIREBASE_PROJECT_ID=hf-file\n" +
		"API_CHECKOUT_SUCCESS_URL=\"https://shop.example.com/ok\"\n" +
		"API_CHECKOUT_CANCEL_URL=https://shop.example.com/cancel\n" +
		"# comment\n" +
		"export API_BACKEND=memory\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{
		"API_TRANSPORT": "inline",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "hf-file" || cfg.Payments.SuccessURL != "https://shop.example.com/ok" {
		t.Errorf("expected values from .env, got %+v", cfg)
	}
	if cfg.Backend.Kind != BackendMemory || cfg.Transport.Kind != TransportInline {
		t.Errorf("unexpected backend/transport %s/%s", cfg.Backend.Kind, cfg.Transport.Kind)
	}

	if _, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(filepath.Join(dir, "missing.env")), WithEnvMap(baseEnv())); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
}
