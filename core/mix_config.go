package core

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// MixRequest carries one mixing job: a funding source and the destination
// set. Secrets arrive base58-decoded as 64-byte ed25519 private keys.
type MixRequest struct {
	SourceSecret    solana.PrivateKey
	FeeSourceSecret solana.PrivateKey // optional separate priority-fee payer
	TotalAmount     uint64            // lamports
	Destinations    []solana.PublicKey
	CustomAmounts   []uint64 // optional, parallel to Destinations
}

// RetryConfig shapes per-hop retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" json:"retry_delay" yaml:"retry_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor" json:"backoff_factor" yaml:"backoff_factor"`
}

// MixConfig is the tagged configuration record for one mix run. Its options
// are exactly the recognized set; the loaders reject unknown keys.
type MixConfig struct {
	HopCount            int           `mapstructure:"hop_count" json:"hop_count" yaml:"hop_count"`
	MaxConcurrentRoutes int           `mapstructure:"max_concurrent_routes" json:"max_concurrent_routes" yaml:"max_concurrent_routes"`
	BalanceCheckTimeout time.Duration `mapstructure:"balance_check_timeout" json:"balance_check_timeout" yaml:"balance_check_timeout"`
	MinDelay            time.Duration `mapstructure:"min_delay" json:"min_delay" yaml:"min_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`
	PriorityFeePolicy   FeePolicy     `mapstructure:"priority_fee_policy" json:"priority_fee_policy" yaml:"priority_fee_policy"`
	RpcLimits           RpcLimits     `mapstructure:"rpc_limits" json:"rpc_limits" yaml:"rpc_limits"`
	Retry               RetryConfig   `mapstructure:"retry" json:"retry" yaml:"retry"`
	DustThreshold       uint64        `mapstructure:"dust_threshold" json:"dust_threshold" yaml:"dust_threshold"`

	// Planner economics.
	PerHopFee         uint64 `mapstructure:"per_hop_fee" json:"per_hop_fee" yaml:"per_hop_fee"`
	SafetyMargin      uint64 `mapstructure:"safety_margin" json:"safety_margin" yaml:"safety_margin"`
	MinPerDestination uint64 `mapstructure:"min_per_destination" json:"min_per_destination" yaml:"min_per_destination"`

	// RecoveryPasses bounds re-submissions before the salvage sweep.
	RecoveryPasses int `mapstructure:"recovery_passes" json:"recovery_passes" yaml:"recovery_passes"`

	// SalvageAddress receives swept funds; zero value falls back to the
	// route's source.
	SalvageAddress solana.PublicKey `mapstructure:"-" json:"-" yaml:"-"`
}

// DefaultMixConfig returns the documented defaults.
func DefaultMixConfig() *MixConfig {
	return &MixConfig{
		HopCount:            8,
		MaxConcurrentRoutes: 2,
		BalanceCheckTimeout: 8 * time.Second,
		PriorityFeePolicy:   DefaultFeePolicy(),
		RpcLimits:           DefaultRpcLimits(),
		Retry:               RetryConfig{MaxAttempts: 3, RetryDelay: time.Second, BackoffFactor: 1.5},
		DustThreshold:       10_000,
		PerHopFee:           5_000,
		SafetyMargin:        10_000,
		MinPerDestination:   20_000,
		RecoveryPasses:      2,
	}
}

// normalize fills zero values with defaults so partially specified configs
// stay usable.
func (c *MixConfig) normalize() {
	def := DefaultMixConfig()
	if c.HopCount <= 0 {
		c.HopCount = def.HopCount
	}
	if c.MaxConcurrentRoutes <= 0 {
		c.MaxConcurrentRoutes = def.MaxConcurrentRoutes
	}
	if c.BalanceCheckTimeout <= 0 {
		c.BalanceCheckTimeout = def.BalanceCheckTimeout
	}
	if c.PriorityFeePolicy == (FeePolicy{}) {
		c.PriorityFeePolicy = def.PriorityFeePolicy
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	if c.DustThreshold == 0 {
		c.DustThreshold = def.DustThreshold
	}
	if c.PerHopFee == 0 {
		c.PerHopFee = def.PerHopFee
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = def.SafetyMargin
	}
	if c.MinPerDestination == 0 {
		c.MinPerDestination = def.MinPerDestination
	}
	if c.RecoveryPasses <= 0 {
		c.RecoveryPasses = def.RecoveryPasses
	}
}

// ParallelMode reports whether inter-hop delays are disabled.
func (c *MixConfig) ParallelMode() bool { return c.MinDelay == 0 && c.MaxDelay == 0 }

// RouteResult is the per-destination outcome inside a MixResult.
type RouteResult struct {
	Destination string   `json:"destination"`
	Status      string   `json:"status"` // complete | failed
	Signatures  []string `json:"signatures"`
	Error       string   `json:"error,omitempty"`
}

// MixResult is the aggregate outcome of one RunMix call.
type MixResult struct {
	AggregateOK bool          `json:"aggregate_ok"`
	Routes      []RouteResult `json:"routes"`
	DurationMs  int64         `json:"duration_ms"`
}
