// Package credentials resolves the two venue API credential sets. The
// environment (via config) is the baseline; when Vault is enabled its
// secrets override whatever the environment carried. The hedge set is
// optional either way.
package credentials

import (
	"context"
	"fmt"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/logging"

	"github.com/hashicorp/vault/api"
)

// Set is one API credential pair.
type Set struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Configured reports whether both halves are present.
func (s Set) Configured() bool {
	return s.APIKey != "" && s.SecretKey != ""
}

// Credentials is the resolved dual-account material.
type Credentials struct {
	Primary Set
	Hedge   Set
}

// HasHedge reports whether a separate hedge account is configured.
func (c Credentials) HasHedge() bool {
	return c.Hedge.Configured()
}

// Loader reads credentials from config/env with an optional Vault
// override layer.
type Loader struct {
	vaultCfg config.VaultConfig
	creds    config.CredentialsConfig
	client   *api.Client
	log      *logging.Logger
}

// NewLoader builds the loader. With Vault disabled no client is
// created and Load works purely from config.
func NewLoader(vaultCfg config.VaultConfig, creds config.CredentialsConfig) (*Loader, error) {
	l := &Loader{
		vaultCfg: vaultCfg,
		creds:    creds,
		log:      logging.Default().WithComponent("credentials"),
	}
	if !vaultCfg.Enabled {
		return l, nil
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = vaultCfg.Address
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(vaultCfg.Token)
	l.client = client
	return l, nil
}

// Load resolves both credential sets. A missing primary set is a fatal
// configuration error; a missing hedge set just means single-account
// mode.
func (l *Loader) Load(ctx context.Context) (Credentials, error) {
	out := Credentials{
		Primary: Set{APIKey: l.creds.PrimaryAPIKey, SecretKey: l.creds.PrimarySecretKey},
		Hedge:   Set{APIKey: l.creds.HedgeAPIKey, SecretKey: l.creds.HedgeSecretKey},
	}

	if l.vaultCfg.Enabled {
		primary, err := l.readSet(ctx, "primary")
		if err != nil {
			return Credentials{}, fmt.Errorf("read primary credentials: %w", err)
		}
		out.Primary = merge(out.Primary, primary)

		hedge, err := l.readSet(ctx, "hedge")
		if err != nil {
			// The hedge secret is optional; a read failure only loses
			// the override.
			l.log.Warn("hedge credentials not readable from vault", "error", err)
		} else {
			out.Hedge = merge(out.Hedge, hedge)
		}
	}

	if !out.Primary.Configured() {
		return Credentials{}, fmt.Errorf("primary credentials missing: set PRIMARY_API_KEY/PRIMARY_SECRET_KEY or enable vault")
	}
	if out.HasHedge() {
		l.log.Info("dual credentials resolved, hedge account active")
	} else {
		l.log.Info("single credential resolved, hedge orders route to the primary account")
	}
	return out, nil
}

// readSet fetches one named credential set from the KV v2 mount.
func (l *Loader) readSet(ctx context.Context, name string) (Set, error) {
	secret, err := l.client.Logical().ReadWithContext(ctx, l.secretPath(name))
	if err != nil {
		return Set{}, fmt.Errorf("vault read failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Set{}, nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Set{}, fmt.Errorf("unexpected secret format at %s", l.secretPath(name))
	}
	return Set{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}, nil
}

// Health checks the Vault connection. Disabled Vault is healthy.
func (l *Loader) Health() error {
	if !l.vaultCfg.Enabled {
		return nil
	}
	health, err := l.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (l *Loader) secretPath(name string) string {
	mount := l.vaultCfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	base := l.vaultCfg.SecretPath
	if base == "" {
		base = "futures-hedge-bot"
	}
	return fmt.Sprintf("%s/data/%s/%s", mount, base, name)
}

// merge overlays vault values on the baseline, keeping baseline halves
// the override left empty.
func merge(base, override Set) Set {
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.SecretKey != "" {
		base.SecretKey = override.SecretKey
	}
	return base
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
