package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ilakkiyam-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "ilakkiyam-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "ilakkiyam-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Store.Driver != StoreDriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Store.Driver)
	}
	if !cfg.Orders.DefaultShippingCost.IsZero() {
		t.Errorf("expected zero default shipping cost, got %s", cfg.Orders.DefaultShippingCost)
	}
	if cfg.Environment != "local" || !cfg.DebugErrors() {
		t.Errorf("expected local environment with debug errors, got %q", cfg.Environment)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_ENVIRONMENT":                  "Production",
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_WRITE_TIMEOUT":         "25s",
		"API_FIREBASE_PROJECT_ID":          "ilakkiyam-prod",
		"API_STORE_DRIVER":                 "mongo",
		"API_MONGO_URI":                    "sm://mongo/uri",
		"API_MONGO_DATABASE":               "store",
		"API_STORAGE_PROOFS_BUCKET":        "proofs-prod",
		"API_STORAGE_SIGNER_KEY":           "secret://storage/signer",
		"API_ORDERS_DEFAULT_SHIPPING_COST": "5.99",
		"API_ORDERS_CHECKOUT_PER_MIN":      "5",
		"API_PAYMENT_BANK_DETAILS":         "plain text details",
		"API_IDEMPOTENCY_TTL":              "48h",
	}
	secrets := map[string]string{
		"secret://mongo/uri":      "mongodb://db:27017",
		"secret://storage/signer": `{"client_email":"x"}`,
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Storage.SignerKey"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "production" || cfg.DebugErrors() {
		t.Errorf("expected production without debug errors, got %q", cfg.Environment)
	}
	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Mongo.URI != "mongodb://db:27017" {
		t.Errorf("expected resolved mongo uri, got %s", cfg.Mongo.URI)
	}
	if cfg.Storage.SignerKey != `{"client_email":"x"}` {
		t.Errorf("expected resolved signer key, got %s", cfg.Storage.SignerKey)
	}
	if cfg.Payments.BankDetails != "plain text details" {
		t.Errorf("expected literal bank details, got %s", cfg.Payments.BankDetails)
	}
	if cfg.Orders.DefaultShippingCost.String() != "5.99" {
		t.Errorf("expected shipping cost 5.99, got %s", cfg.Orders.DefaultShippingCost)
	}
	if cfg.Orders.CheckoutPerMinute != 5 {
		t.Errorf("expected checkout limit 5, got %d", cfg.Orders.CheckoutPerMinute)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("expected idempotency ttl 48h, got %s", cfg.Idempotency.TTL)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_STORE_DRIVER":                 "mongo",
		"API_ORDERS_DEFAULT_SHIPPING_COST": "-1",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{"Firebase.ProjectID": false, "Mongo.URI": false, "Orders.DefaultShippingCost": false}
	for _, field := range validation.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, validation.Fields())
		}
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ilakkiyam-dev",
		"API_STORAGE_SIGNER_KEY":  "secret://storage/signer",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://storage/signer" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecret(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "ilakkiyam-dev"}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithRequiredSecrets("Storage.SignerKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if len(missing.RedactedNames()) != 1 {
		t.Fatalf("expected one redacted name, got %v", missing.RedactedNames())
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_FIREBASE_PROJECT_ID=\"from-dotenv\"\nAPI_SERVER_PORT=7070\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-dotenv" {
		t.Errorf("expected project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to override dotenv, got %s", cfg.Server.Port)
	}
}
