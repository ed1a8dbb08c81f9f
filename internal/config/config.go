// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file with sensitive fields overridable via
// ARB_* environment variables, and an optional .env overlay applied before
// viper's AutomaticEnv takes over.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun           bool                   `mapstructure:"dry_run"`
	Wallet           WalletConfig           `mapstructure:"wallet"`
	API              APIConfig              `mapstructure:"api"`
	Risk             RiskConfig             `mapstructure:"risk"`
	Inference        InferenceConfig        `mapstructure:"inference"`
	ClusterDetection ClusterDetectionConfig `mapstructure:"cluster_detection"`
	Dedup            DedupConfig            `mapstructure:"dedup"`
	Strategies       StrategiesConfig       `mapstructure:"strategies"`
	Subscription     SubscriptionConfig     `mapstructure:"subscription"`
	Governor         GovernorConfig         `mapstructure:"governor"`
	Store            StoreConfig            `mapstructure:"store"`
	Stats            StatsConfig            `mapstructure:"stats"`
	Logging          LoggingConfig          `mapstructure:"logging"`
	Dashboard        DashboardConfig        `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange API endpoints and optional pre-derived L2 credentials.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
	ShardCount   int    `mapstructure:"shard_count"`
}

// RiskConfig sets the gates an opportunity must clear before execution.
//
//   - MaxPositionPerMarket: max USD exposure in any single market.
//   - MaxTotalExposure: max USD exposure across all open positions combined.
//   - MinEdgeThreshold: minimum per-unit edge (1 - total cost) a detector requires.
//   - MinProfitThreshold: reject opportunities below this expected-profit floor.
//   - MaxSlippage: reject if book has moved more than this fraction since detection.
//   - ExecutionTimeoutSecs: per-opportunity execution deadline.
//   - CooldownAfterTrip: how long the breaker stays open after tripping.
//   - MaxConcurrentExecutions: the execution pool's admission limit; an
//     opportunity approved beyond this bound is dropped with reason
//     Throttled rather than queued, so the event loop never blocks.
type RiskConfig struct {
	MaxPositionPerMarket    float64       `mapstructure:"max_position_per_market"`
	MaxTotalExposure        float64       `mapstructure:"max_total_exposure"`
	MinEdgeThreshold        float64       `mapstructure:"min_edge_threshold"`
	MinProfitThreshold      float64       `mapstructure:"min_profit_threshold"`
	MaxSlippage             float64       `mapstructure:"max_slippage"`
	ExecutionTimeoutSecs    int           `mapstructure:"execution_timeout_secs"`
	CooldownAfterTrip       time.Duration `mapstructure:"cooldown_after_trip"`
	MaxConcurrentExecutions int           `mapstructure:"max_concurrent_executions"`
}

// InferenceConfig controls the LLM relation-inference driver.
type InferenceConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	MinConfidence       float64 `mapstructure:"min_confidence"`
	TTLSeconds          int     `mapstructure:"ttl_seconds"`
	PriceChangeThresh   float64 `mapstructure:"price_change_threshold"`
	ScanIntervalSeconds int     `mapstructure:"scan_interval_seconds"`
	BatchSize           int     `mapstructure:"batch_size"`
}

// ClusterDetectionConfig controls combinatorial cluster recomputation and
// the Bregman/Frank-Wolfe solver run against each cluster.
type ClusterDetectionConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	DebounceMs          int     `mapstructure:"debounce_ms"`
	MinGap              float64 `mapstructure:"min_gap"`
	MaxClustersPerCycle int     `mapstructure:"max_clusters_per_cycle"`
	ChannelCapacity     int     `mapstructure:"channel_capacity"`
	LMSRLiquidity       float64 `mapstructure:"lmsr_liquidity"`
	MaxIterations       int     `mapstructure:"max_iterations"`
	ConvergenceEpsilon  float64 `mapstructure:"convergence_epsilon"`
}

// DedupConfig controls the market-data deduplicator.
type DedupConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Strategy        string `mapstructure:"strategy"` // "hash" | "timestamp" | "content"
	CacheTTLSecs    int    `mapstructure:"cache_ttl_secs"`
	MaxCacheEntries int    `mapstructure:"max_cache_entries"`
}

// StrategiesConfig lists the detection strategies to enable.
type StrategiesConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// SubscriptionConfig tunes the token scorer and shard partitioner.
// Reuses the teacher's scanner ranking formula: score = spread *
// sqrt(volume24h) * min(liquidity/10000, 1).
type SubscriptionConfig struct {
	RescoreInterval     time.Duration `mapstructure:"rescore_interval"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	MinLiquidity        float64       `mapstructure:"min_liquidity"`
	MinVolume24h        float64       `mapstructure:"min_volume_24h"`
	MaxPerShard         int           `mapstructure:"max_per_shard"`
	ScoreDriftThreshold float64       `mapstructure:"score_drift_threshold"`
}

// GovernorConfig tunes the adaptive subscription-breadth governor, per
// spec.md's p50/p95/p99 latency control law.
type GovernorConfig struct {
	WindowSecs        int           `mapstructure:"window_secs"`
	EvalInterval      time.Duration `mapstructure:"eval_interval"`
	TargetP95         time.Duration `mapstructure:"target_p95_ms"`
	MaxP99            time.Duration `mapstructure:"max_p99_ms"`
	Hysteresis        float64       `mapstructure:"hysteresis"`
	StableCycles      int           `mapstructure:"stable_cycles"`
	HotCycles         int           `mapstructure:"hot_cycles"`
	StepUp            int           `mapstructure:"step_up"`
	StepDown          int           `mapstructure:"step_down"`
	MinSubscriptions  int           `mapstructure:"min_subscriptions"`
	MaxSubscriptions  int           `mapstructure:"max_subscriptions"`
}

// StoreConfig sets where position data is persisted (pebble KV directory).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// StatsConfig sets the durable stats store's MySQL DSN.
type StatsConfig struct {
	DSN           string        `mapstructure:"dsn"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the control-surface HTTP/WS server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file, applying a .env overlay (if present)
// before viper's AutomaticEnv, then ARB_* env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional .env overlay, ignored if absent

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("ARB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if dsn := os.Getenv("ARB_STATS_DSN"); dsn != "" {
		cfg.Stats.DSN = dsn
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills in the field defaults called out for risk/inference/
// cluster_detection/dedup when the config file omits them.
func applyDefaults(cfg *Config) {
	if cfg.Risk.MaxPositionPerMarket == 0 {
		cfg.Risk.MaxPositionPerMarket = 1000
	}
	if cfg.Risk.MaxTotalExposure == 0 {
		cfg.Risk.MaxTotalExposure = 10000
	}
	if cfg.Risk.MinEdgeThreshold == 0 {
		cfg.Risk.MinEdgeThreshold = 0.02
	}
	if cfg.Risk.MinProfitThreshold == 0 {
		cfg.Risk.MinProfitThreshold = 0.05
	}
	if cfg.Risk.MaxSlippage == 0 {
		cfg.Risk.MaxSlippage = 0.02
	}
	if cfg.Risk.ExecutionTimeoutSecs == 0 {
		cfg.Risk.ExecutionTimeoutSecs = 30
	}
	if cfg.Risk.CooldownAfterTrip == 0 {
		cfg.Risk.CooldownAfterTrip = time.Minute
	}
	if cfg.Risk.MaxConcurrentExecutions == 0 {
		cfg.Risk.MaxConcurrentExecutions = 8
	}
	if cfg.Inference.MinConfidence == 0 {
		cfg.Inference.MinConfidence = 0.7
	}
	if cfg.Inference.TTLSeconds == 0 {
		cfg.Inference.TTLSeconds = 3600
	}
	if cfg.Inference.PriceChangeThresh == 0 {
		cfg.Inference.PriceChangeThresh = 0.05
	}
	if cfg.Inference.ScanIntervalSeconds == 0 {
		cfg.Inference.ScanIntervalSeconds = 3600
	}
	if cfg.Inference.BatchSize == 0 {
		cfg.Inference.BatchSize = 50
	}
	if cfg.ClusterDetection.DebounceMs == 0 {
		cfg.ClusterDetection.DebounceMs = 100
	}
	if cfg.ClusterDetection.MinGap == 0 {
		cfg.ClusterDetection.MinGap = 0.02
	}
	if cfg.ClusterDetection.MaxClustersPerCycle == 0 {
		cfg.ClusterDetection.MaxClustersPerCycle = 50
	}
	if cfg.ClusterDetection.ChannelCapacity == 0 {
		cfg.ClusterDetection.ChannelCapacity = 1024
	}
	if cfg.ClusterDetection.LMSRLiquidity == 0 {
		cfg.ClusterDetection.LMSRLiquidity = 100
	}
	if cfg.ClusterDetection.MaxIterations == 0 {
		cfg.ClusterDetection.MaxIterations = 50
	}
	if cfg.ClusterDetection.ConvergenceEpsilon == 0 {
		cfg.ClusterDetection.ConvergenceEpsilon = 1e-6
	}
	if cfg.Dedup.Strategy == "" {
		cfg.Dedup.Strategy = "hash"
	}
	if cfg.Dedup.CacheTTLSecs == 0 {
		cfg.Dedup.CacheTTLSecs = 5
	}
	if cfg.Dedup.MaxCacheEntries == 0 {
		cfg.Dedup.MaxCacheEntries = 100000
	}
	if cfg.API.ShardCount == 0 {
		cfg.API.ShardCount = 1
	}
	if cfg.Subscription.RescoreInterval == 0 {
		cfg.Subscription.RescoreInterval = 5 * time.Minute
	}
	if cfg.Subscription.MaxPerShard == 0 {
		cfg.Subscription.MaxPerShard = 200
	}
	if cfg.Subscription.ScoreDriftThreshold == 0 {
		cfg.Subscription.ScoreDriftThreshold = 0.25
	}
	if cfg.Governor.WindowSecs == 0 {
		cfg.Governor.WindowSecs = 60
	}
	if cfg.Governor.EvalInterval == 0 {
		cfg.Governor.EvalInterval = 10 * time.Second
	}
	if cfg.Governor.TargetP95 == 0 {
		cfg.Governor.TargetP95 = 200 * time.Millisecond
	}
	if cfg.Governor.MaxP99 == 0 {
		cfg.Governor.MaxP99 = 500 * time.Millisecond
	}
	if cfg.Governor.Hysteresis == 0 {
		cfg.Governor.Hysteresis = 0.1
	}
	if cfg.Governor.StableCycles == 0 {
		cfg.Governor.StableCycles = 3
	}
	if cfg.Governor.HotCycles == 0 {
		cfg.Governor.HotCycles = 2
	}
	if cfg.Governor.StepUp == 0 {
		cfg.Governor.StepUp = 50
	}
	if cfg.Governor.StepDown == 0 {
		cfg.Governor.StepDown = 50
	}
	if cfg.Governor.MaxSubscriptions == 0 {
		cfg.Governor.MaxSubscriptions = 2000
	}
}

// Validate checks all required fields and value ranges. Rejected values:
// max_slippage > 1, empty required URLs, min_confidence outside [0,1].
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set ARB_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.WSMarketURL == "" {
		return fmt.Errorf("api.ws_market_url is required")
	}
	if c.Risk.MaxSlippage > 1 {
		return fmt.Errorf("risk.max_slippage must be <= 1")
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("risk.max_position_per_market must be > 0")
	}
	if c.Risk.MaxTotalExposure <= 0 {
		return fmt.Errorf("risk.max_total_exposure must be > 0")
	}
	if c.Inference.MinConfidence < 0 || c.Inference.MinConfidence > 1 {
		return fmt.Errorf("inference.min_confidence must be in [0,1]")
	}
	return nil
}
