package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Credentials  CredentialsConfig  `json:"credentials"`
	Trading      TradingConfig      `json:"trading"`
	Sizing       SizingConfig       `json:"sizing"`
	Hedge        HedgeConfig        `json:"hedge"`
	Allocator    AllocatorConfig    `json:"allocator"`
	Snapshot     SnapshotConfig     `json:"snapshot"`
	Redis        RedisConfig        `json:"redis"`
	Database     DatabaseConfig     `json:"database"`
	Analysis     AnalysisConfig     `json:"analysis"`
	Server       ServerConfig       `json:"server"`
	Auth         AuthConfig         `json:"auth"`
	Notification NotificationConfig `json:"notification"`
	Logging      LoggingConfig      `json:"logging"`
	Circuit      CircuitConfig      `json:"circuit"`
	Vault        VaultConfig        `json:"vault"`
}

// GatewayConfig holds venue connection settings shared by both accounts.
type GatewayConfig struct {
	BaseURL     string `json:"base_url"`
	StreamURL   string `json:"stream_url"`
	TestNet     bool   `json:"testnet"`
	MockMode    bool   `json:"mock_mode"` // simulated venue, no network at all
	TimeoutSecs int    `json:"timeout_secs"`
}

// CredentialsConfig holds the two API credential sets. The hedge set is
// optional; when empty, hedge orders route through the primary account.
// Values normally arrive via environment or Vault, not config.json.
type CredentialsConfig struct {
	PrimaryAPIKey    string `json:"primary_api_key"`
	PrimarySecretKey string `json:"primary_secret_key"`
	HedgeAPIKey      string `json:"hedge_api_key"`
	HedgeSecretKey   string `json:"hedge_secret_key"`
}

// HasHedgeAccount reports whether a separate hedge credential set exists.
func (c *CredentialsConfig) HasHedgeAccount() bool {
	return c.HedgeAPIKey != "" && c.HedgeSecretKey != ""
}

type TradingConfig struct {
	Pairs          []string `json:"pairs"`
	DryRun         bool     `json:"dry_run"`
	HeavyCycleSecs int      `json:"heavy_cycle_secs"` // market refresh + signal execution
	QuickCycleSecs int      `json:"quick_cycle_secs"` // fast re-evaluation
	JournalPath    string   `json:"journal_path"`     // append-only order journal
}

// RoleSizing sets margin fraction and leverage for one primary role.
type RoleSizing struct {
	SizePct  float64 `json:"size_pct"` // fraction of account balance, 0.20 = 20%
	Leverage float64 `json:"leverage"`
}

type SizingConfig struct {
	Anchor        RoleSizing `json:"anchor"`
	Opportunity   RoleSizing `json:"opportunity"`
	Scalp         RoleSizing `json:"scalp"`
	HighFreq      RoleSizing `json:"high_freq"`
	TakeProfitPct float64    `json:"take_profit_pct"` // static TP distance from entry
}

// ForRole returns the sizing for a primary role, falling back to anchor.
func (s *SizingConfig) ForRole(role string) RoleSizing {
	switch role {
	case "OPPORTUNITY":
		return s.Opportunity
	case "SCALP":
		return s.Scalp
	case "HIGH_FREQUENCY":
		return s.HighFreq
	default:
		return s.Anchor
	}
}

// HedgeConfig drives hedge sizing, the guarantee calculator caps and the
// hedge monitor cadence.
type HedgeConfig struct {
	SizePct              float64 `json:"size_pct"`               // base hedge margin fraction, 0.30 = 30%
	Leverage             float64 `json:"leverage"`               // base hedge leverage before the multiplier
	LeverageMultiplier   float64 `json:"leverage_multiplier"`    // applied to anchor/opportunity/scalp hedges
	EmergencyMaxLeverage float64 `json:"emergency_max_leverage"` // multiplier cap, ignored for scalp hedges
	MaxLeverage          float64 `json:"max_leverage"`           // guarantee adjustment ceiling
	MaxSizePct           float64 `json:"max_size_pct"`           // guarantee adjustment ceiling
	MaxPriceDeviation    float64 `json:"max_price_deviation"`    // fraction, 0.02 = 2%
	LiquidationBuffer    float64 `json:"liquidation_buffer"`     // TP buffer off the primary liquidation price
	MonitorIntervalSecs  int     `json:"monitor_interval_secs"`
	MaxRetryAttempts     int     `json:"max_retry_attempts"` // backoff phase length
	RetryBaseMs          int     `json:"retry_base_ms"`
	RetryMaxMs           int     `json:"retry_max_ms"`
	ContinuousRetrySecs  int     `json:"continuous_retry_secs"`
	AutoClose            bool    `json:"auto_close"`          // act on exit recommendations instead of only logging
	RoundTripFeeRate     float64 `json:"round_trip_fee_rate"` // estimated open+close fee fraction
	RecoveryExitPct      float64 `json:"recovery_exit_pct"`   // primary recovery threshold
	EntryProximityPct    float64 `json:"entry_proximity_pct"` // price-near-entry threshold
}

type AllocatorConfig struct {
	MaxPrimaryPositions int                `json:"max_primary_positions"` // global cap across all pairs
	TotalExposureCap    float64            `json:"total_exposure_cap"`    // worst-case margin ceiling for 3+ pairs
	PairSizeFactors     map[string]float64 `json:"pair_size_factors"`     // explicit per-pair overrides disable auto scaling
}

type SnapshotConfig struct {
	Backend  string `json:"backend"` // "file" or "redis"
	FilePath string `json:"file_path"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"` // postgres connection string
}

// AnalysisConfig points at the external comprehensive-analysis service.
type AnalysisConfig struct {
	Enabled             bool   `json:"enabled"`
	BaseURL             string `json:"base_url"`
	APIKey              string `json:"api_key"`
	Model               string `json:"model"`
	TimeoutSecs         int    `json:"timeout_secs"`
	CacheTTLSecs        int    `json:"cache_ttl_secs"`
	VolatileTTLSecs     int    `json:"volatile_ttl_secs"`    // shortened TTL under high volatility
	VolatilityThreshold float64 `json:"volatility_threshold"` // recent move fraction that triggers the short TTL
}

type ServerConfig struct {
	Enabled             bool   `json:"enabled"`
	Port                int    `json:"port"`
	Host                string `json:"host"`
	AllowedOrigins      string `json:"allowed_origins"`
	ReadTimeoutSecs     int    `json:"read_timeout_secs"`
	WriteTimeoutSecs    int    `json:"write_timeout_secs"`
	ShutdownTimeoutSecs int    `json:"shutdown_timeout_secs"`
}

// AuthConfig protects mutating API routes. Single operator.
type AuthConfig struct {
	Enabled              bool          `json:"enabled"`
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	OperatorUser         string        `json:"operator_user"`
	OperatorPasswordHash string        `json:"operator_password_hash"` // bcrypt
}

type WebhookTarget struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type NotificationConfig struct {
	Enabled  bool            `json:"enabled"`
	Webhooks []WebhookTarget `json:"webhooks"`
}

type LoggingConfig struct {
	Level     string `json:"level"` // DEBUG, INFO, WARN, ERROR
	Output    string `json:"output"`
	JSON      bool   `json:"json"`
	AddSource bool   `json:"add_source"`
}

type CircuitConfig struct {
	Enabled      bool `json:"enabled"`
	MaxFailures  int  `json:"max_failures"`
	CooldownSecs int  `json:"cooldown_secs"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// Load reads config.json when present, applies environment overrides and
// fills defaults. Missing file is fine; bad JSON is not.
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom is Load with an explicit path, used by tests and tools.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Gateway
	cfg.Gateway.BaseURL = getEnvOrDefault("GATEWAY_BASE_URL", cfg.Gateway.BaseURL)
	cfg.Gateway.StreamURL = getEnvOrDefault("GATEWAY_STREAM_URL", cfg.Gateway.StreamURL)
	cfg.Gateway.TestNet = getEnvBoolOrDefault("GATEWAY_TESTNET", cfg.Gateway.TestNet)
	cfg.Gateway.MockMode = getEnvBoolOrDefault("GATEWAY_MOCK_MODE", cfg.Gateway.MockMode)

	// Credentials always come from environment when set
	cfg.Credentials.PrimaryAPIKey = getEnvOrDefault("PRIMARY_API_KEY", cfg.Credentials.PrimaryAPIKey)
	cfg.Credentials.PrimarySecretKey = getEnvOrDefault("PRIMARY_SECRET_KEY", cfg.Credentials.PrimarySecretKey)
	cfg.Credentials.HedgeAPIKey = getEnvOrDefault("HEDGE_API_KEY", cfg.Credentials.HedgeAPIKey)
	cfg.Credentials.HedgeSecretKey = getEnvOrDefault("HEDGE_SECRET_KEY", cfg.Credentials.HedgeSecretKey)

	// Trading
	if pairs := os.Getenv("TRADING_PAIRS"); pairs != "" {
		cfg.Trading.Pairs = splitCSV(pairs)
	}
	cfg.Trading.DryRun = getEnvBoolOrDefault("TRADING_DRY_RUN", cfg.Trading.DryRun)
	cfg.Trading.HeavyCycleSecs = getEnvIntOrDefault("TRADING_HEAVY_CYCLE_SECS", cfg.Trading.HeavyCycleSecs)
	cfg.Trading.QuickCycleSecs = getEnvIntOrDefault("TRADING_QUICK_CYCLE_SECS", cfg.Trading.QuickCycleSecs)
	cfg.Trading.JournalPath = getEnvOrDefault("TRADING_JOURNAL_PATH", cfg.Trading.JournalPath)

	// Hedge
	cfg.Hedge.SizePct = getEnvFloatOrDefault("HEDGE_SIZE_PCT", cfg.Hedge.SizePct)
	cfg.Hedge.Leverage = getEnvFloatOrDefault("HEDGE_LEVERAGE", cfg.Hedge.Leverage)
	cfg.Hedge.MaxLeverage = getEnvFloatOrDefault("HEDGE_MAX_LEVERAGE", cfg.Hedge.MaxLeverage)
	cfg.Hedge.MaxSizePct = getEnvFloatOrDefault("HEDGE_MAX_SIZE_PCT", cfg.Hedge.MaxSizePct)
	cfg.Hedge.MaxPriceDeviation = getEnvFloatOrDefault("HEDGE_MAX_PRICE_DEVIATION", cfg.Hedge.MaxPriceDeviation)
	cfg.Hedge.MonitorIntervalSecs = getEnvIntOrDefault("HEDGE_MONITOR_INTERVAL_SECS", cfg.Hedge.MonitorIntervalSecs)
	cfg.Hedge.MaxRetryAttempts = getEnvIntOrDefault("HEDGE_MAX_RETRY_ATTEMPTS", cfg.Hedge.MaxRetryAttempts)
	cfg.Hedge.AutoClose = getEnvBoolOrDefault("HEDGE_AUTO_CLOSE", cfg.Hedge.AutoClose)

	// Allocator
	cfg.Allocator.MaxPrimaryPositions = getEnvIntOrDefault("ALLOCATOR_MAX_PRIMARY_POSITIONS", cfg.Allocator.MaxPrimaryPositions)
	cfg.Allocator.TotalExposureCap = getEnvFloatOrDefault("ALLOCATOR_TOTAL_EXPOSURE_CAP", cfg.Allocator.TotalExposureCap)

	// Snapshot
	cfg.Snapshot.Backend = getEnvOrDefault("SNAPSHOT_BACKEND", cfg.Snapshot.Backend)
	cfg.Snapshot.FilePath = getEnvOrDefault("SNAPSHOT_FILE_PATH", cfg.Snapshot.FilePath)

	// Redis
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Database
	cfg.Database.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.Database.Enabled)
	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)

	// Analysis
	cfg.Analysis.Enabled = getEnvBoolOrDefault("ANALYSIS_ENABLED", cfg.Analysis.Enabled)
	cfg.Analysis.BaseURL = getEnvOrDefault("ANALYSIS_BASE_URL", cfg.Analysis.BaseURL)
	cfg.Analysis.APIKey = getEnvOrDefault("ANALYSIS_API_KEY", cfg.Analysis.APIKey)
	cfg.Analysis.Model = getEnvOrDefault("ANALYSIS_MODEL", cfg.Analysis.Model)

	// Server
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	// Auth
	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.Auth.AccessTokenDuration)
	cfg.Auth.OperatorUser = getEnvOrDefault("AUTH_OPERATOR_USER", cfg.Auth.OperatorUser)
	cfg.Auth.OperatorPasswordHash = getEnvOrDefault("AUTH_OPERATOR_PASSWORD_HASH", cfg.Auth.OperatorPasswordHash)

	// Notification
	cfg.Notification.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.Notification.Enabled)
	if url := os.Getenv("NOTIFICATION_WEBHOOK_URL"); url != "" {
		cfg.Notification.Webhooks = append(cfg.Notification.Webhooks, WebhookTarget{Name: "default", URL: url})
	}

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSON = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSON)

	// Vault
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.BaseURL == "" {
		if cfg.Gateway.TestNet {
			cfg.Gateway.BaseURL = "https://testnet.binancefuture.com"
		} else {
			cfg.Gateway.BaseURL = "https://fapi.binance.com"
		}
	}
	if cfg.Gateway.StreamURL == "" {
		cfg.Gateway.StreamURL = "wss://fstream.binance.com"
	}
	if cfg.Gateway.TimeoutSecs <= 0 {
		cfg.Gateway.TimeoutSecs = 15
	}

	if cfg.Trading.HeavyCycleSecs <= 0 {
		cfg.Trading.HeavyCycleSecs = 60
	}
	if cfg.Trading.QuickCycleSecs <= 0 {
		cfg.Trading.QuickCycleSecs = 10
	}
	if cfg.Trading.JournalPath == "" {
		cfg.Trading.JournalPath = "data/orders.jsonl"
	}

	if cfg.Sizing.Anchor.SizePct == 0 {
		cfg.Sizing.Anchor = RoleSizing{SizePct: 0.20, Leverage: 10}
	}
	if cfg.Sizing.Opportunity.SizePct == 0 {
		cfg.Sizing.Opportunity = RoleSizing{SizePct: 0.15, Leverage: 10}
	}
	if cfg.Sizing.Scalp.SizePct == 0 {
		cfg.Sizing.Scalp = RoleSizing{SizePct: 0.10, Leverage: 15}
	}
	if cfg.Sizing.HighFreq.SizePct == 0 {
		cfg.Sizing.HighFreq = RoleSizing{SizePct: 0.05, Leverage: 20}
	}
	if cfg.Sizing.TakeProfitPct == 0 {
		cfg.Sizing.TakeProfitPct = 0.02
	}

	h := &cfg.Hedge
	if h.SizePct == 0 {
		h.SizePct = 0.30
	}
	if h.Leverage == 0 {
		h.Leverage = 10
	}
	if h.LeverageMultiplier == 0 {
		h.LeverageMultiplier = 2.0
	}
	if h.EmergencyMaxLeverage == 0 {
		h.EmergencyMaxLeverage = 50
	}
	if h.MaxLeverage == 0 {
		h.MaxLeverage = 50
	}
	if h.MaxSizePct == 0 {
		h.MaxSizePct = 0.60
	}
	if h.MaxPriceDeviation == 0 {
		h.MaxPriceDeviation = 0.02
	}
	if h.LiquidationBuffer == 0 {
		h.LiquidationBuffer = 0.02
	}
	if h.MonitorIntervalSecs <= 0 {
		h.MonitorIntervalSecs = 30
	}
	if h.MaxRetryAttempts <= 0 {
		h.MaxRetryAttempts = 5
	}
	if h.RetryBaseMs <= 0 {
		h.RetryBaseMs = 1000
	}
	if h.RetryMaxMs <= 0 {
		h.RetryMaxMs = 30000
	}
	if h.ContinuousRetrySecs <= 0 {
		h.ContinuousRetrySecs = 30
	}
	if h.RoundTripFeeRate == 0 {
		h.RoundTripFeeRate = 0.0009
	}
	if h.RecoveryExitPct == 0 {
		h.RecoveryExitPct = 0.01
	}
	if h.EntryProximityPct == 0 {
		h.EntryProximityPct = 0.002
	}

	if cfg.Allocator.MaxPrimaryPositions <= 0 {
		cfg.Allocator.MaxPrimaryPositions = 2
	}
	if cfg.Allocator.TotalExposureCap == 0 {
		cfg.Allocator.TotalExposureCap = 0.80
	}

	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = "file"
	}
	if cfg.Snapshot.FilePath == "" {
		cfg.Snapshot.FilePath = "data/position_snapshot.json"
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Redis.PoolSize <= 0 {
		cfg.Redis.PoolSize = 10
	}

	if cfg.Analysis.TimeoutSecs <= 0 {
		cfg.Analysis.TimeoutSecs = 30
	}
	if cfg.Analysis.CacheTTLSecs <= 0 {
		cfg.Analysis.CacheTTLSecs = 300
	}
	if cfg.Analysis.VolatileTTLSecs <= 0 {
		cfg.Analysis.VolatileTTLSecs = 60
	}
	if cfg.Analysis.VolatilityThreshold == 0 {
		cfg.Analysis.VolatilityThreshold = 0.03
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.AllowedOrigins == "" {
		cfg.Server.AllowedOrigins = "*"
	}
	if cfg.Server.ReadTimeoutSecs <= 0 {
		cfg.Server.ReadTimeoutSecs = 30
	}
	if cfg.Server.WriteTimeoutSecs <= 0 {
		cfg.Server.WriteTimeoutSecs = 30
	}
	if cfg.Server.ShutdownTimeoutSecs <= 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}

	if cfg.Auth.AccessTokenDuration == 0 {
		cfg.Auth.AccessTokenDuration = 12 * time.Hour
	}
	if cfg.Auth.OperatorUser == "" {
		cfg.Auth.OperatorUser = "operator"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
		cfg.Logging.JSON = true
	}

	if cfg.Circuit.MaxFailures <= 0 {
		cfg.Circuit.MaxFailures = 3
	}
	if cfg.Circuit.CooldownSecs <= 0 {
		cfg.Circuit.CooldownSecs = 60
	}

	if cfg.Vault.Address == "" {
		cfg.Vault.Address = "http://localhost:8200"
	}
	if cfg.Vault.MountPath == "" {
		cfg.Vault.MountPath = "secret"
	}
	if cfg.Vault.SecretPath == "" {
		cfg.Vault.SecretPath = "hedge-bot/credentials"
	}
}

// Validate rejects configurations the engine cannot run with. These are
// fatal at startup, unlike runtime denials which are logged and skipped.
func (c *Config) Validate() error {
	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("config: no trading pairs configured")
	}
	for _, rs := range []struct {
		name string
		s    RoleSizing
	}{
		{"anchor", c.Sizing.Anchor},
		{"opportunity", c.Sizing.Opportunity},
		{"scalp", c.Sizing.Scalp},
		{"high_freq", c.Sizing.HighFreq},
	} {
		if rs.s.SizePct <= 0 || rs.s.SizePct >= 1 {
			return fmt.Errorf("config: %s size_pct %.4f out of (0,1)", rs.name, rs.s.SizePct)
		}
		if rs.s.Leverage < 1 {
			return fmt.Errorf("config: %s leverage %.2f below 1", rs.name, rs.s.Leverage)
		}
	}
	if c.Hedge.SizePct <= 0 || c.Hedge.SizePct > c.Hedge.MaxSizePct {
		return fmt.Errorf("config: hedge size_pct %.4f out of (0, %.4f]", c.Hedge.SizePct, c.Hedge.MaxSizePct)
	}
	if c.Hedge.Leverage < 1 || c.Hedge.Leverage > c.Hedge.MaxLeverage {
		return fmt.Errorf("config: hedge leverage %.2f out of [1, %.2f]", c.Hedge.Leverage, c.Hedge.MaxLeverage)
	}
	if c.Hedge.MaxPriceDeviation <= 0 {
		return fmt.Errorf("config: hedge max_price_deviation must be positive")
	}
	if c.Allocator.MaxPrimaryPositions < 1 {
		return fmt.Errorf("config: allocator max_primary_positions must be at least 1")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth enabled without AUTH_JWT_SECRET")
	}
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("config: database enabled without DATABASE_URL")
	}
	switch c.Snapshot.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("config: unknown snapshot backend %q", c.Snapshot.Backend)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a ready-to-edit starting configuration
// pointed at the testnet in dry-run mode.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		Gateway: GatewayConfig{TestNet: true},
		Trading: TradingConfig{
			Pairs:          []string{"BTCUSDT", "ETHUSDT"},
			DryRun:         true,
			HeavyCycleSecs: 60,
			QuickCycleSecs: 10,
		},
		Sizing: SizingConfig{
			Anchor:        RoleSizing{SizePct: 0.20, Leverage: 10},
			Opportunity:   RoleSizing{SizePct: 0.15, Leverage: 10},
			Scalp:         RoleSizing{SizePct: 0.10, Leverage: 15},
			HighFreq:      RoleSizing{SizePct: 0.05, Leverage: 20},
			TakeProfitPct: 0.02,
		},
		Hedge: HedgeConfig{
			SizePct:              0.30,
			Leverage:             10,
			LeverageMultiplier:   2.0,
			EmergencyMaxLeverage: 50,
			MaxLeverage:          50,
			MaxSizePct:           0.60,
			MaxPriceDeviation:    0.02,
			LiquidationBuffer:    0.02,
			MonitorIntervalSecs:  30,
			MaxRetryAttempts:     5,
			RetryBaseMs:          1000,
			RetryMaxMs:           30000,
			ContinuousRetrySecs:  30,
			RoundTripFeeRate:     0.0009,
			RecoveryExitPct:      0.01,
			EntryProximityPct:    0.002,
		},
		Allocator: AllocatorConfig{
			MaxPrimaryPositions: 2,
			TotalExposureCap:    0.80,
		},
		Snapshot: SnapshotConfig{Backend: "file", FilePath: "data/position_snapshot.json"},
		Logging:  LoggingConfig{Level: "INFO", Output: "stdout", JSON: true},
		Circuit:  CircuitConfig{Enabled: true, MaxFailures: 3, CooldownSecs: 60},
		Server:   ServerConfig{Enabled: true, Port: 8080, Host: "0.0.0.0", AllowedOrigins: "*"},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
