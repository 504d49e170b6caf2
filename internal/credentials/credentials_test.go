package credentials

import (
	"context"
	"testing"

	"futures-hedge-bot/config"
)

func TestLoadFromConfigWithoutVault(t *testing.T) {
	l, err := NewLoader(config.VaultConfig{}, config.CredentialsConfig{
		PrimaryAPIKey:    "pk",
		PrimarySecretKey: "ps",
		HedgeAPIKey:      "hk",
		HedgeSecretKey:   "hs",
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	creds, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if creds.Primary.APIKey != "pk" || creds.Primary.SecretKey != "ps" {
		t.Errorf("primary = %+v", creds.Primary)
	}
	if !creds.HasHedge() {
		t.Error("hedge set present but not detected")
	}
}

func TestLoadHedgeOptional(t *testing.T) {
	l, err := NewLoader(config.VaultConfig{}, config.CredentialsConfig{
		PrimaryAPIKey:    "pk",
		PrimarySecretKey: "ps",
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	creds, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if creds.HasHedge() {
		t.Error("hedge reported configured with no keys")
	}
}

func TestLoadRefusesMissingPrimary(t *testing.T) {
	l, err := NewLoader(config.VaultConfig{}, config.CredentialsConfig{
		PrimaryAPIKey: "pk", // secret missing
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := l.Load(context.Background()); err == nil {
		t.Error("incomplete primary set must be a fatal error")
	}
}

func TestMergeOverlaysNonEmptyHalves(t *testing.T) {
	base := Set{APIKey: "env-key", SecretKey: "env-secret"}

	got := merge(base, Set{APIKey: "vault-key"})
	if got.APIKey != "vault-key" || got.SecretKey != "env-secret" {
		t.Errorf("merge = %+v, want vault key over env secret", got)
	}

	got = merge(base, Set{})
	if got != base {
		t.Errorf("empty override changed the base: %+v", got)
	}
}
