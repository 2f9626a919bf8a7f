package core

// Retry-aware compute-unit-price policy. Each transfer carries a priority fee
// of clamp(base × multiplier^attempt, min, max) micro-lamports, so repeated
// attempts on a stuck hop bid progressively higher.

import "math"

// FeePolicy shapes the priority fee escalation for one operation kind.
type FeePolicy struct {
	Base       float64 `mapstructure:"base" json:"base" yaml:"base"`
	Multiplier float64 `mapstructure:"multiplier" json:"multiplier" yaml:"multiplier"`
	Min        float64 `mapstructure:"min" json:"min" yaml:"min"`
	Max        float64 `mapstructure:"max" json:"max" yaml:"max"`
}

// PriceFor returns the compute-unit price (micro-lamports) for the given
// zero-based attempt index on a hop.
func (p FeePolicy) PriceFor(attempt int) uint64 {
	if attempt < 0 {
		attempt = 0
	}
	fee := p.Base * math.Pow(p.Multiplier, float64(attempt))
	if fee < p.Min {
		fee = p.Min
	}
	if fee > p.Max {
		fee = p.Max
	}
	return uint64(fee)
}

// Named fee presets. The mixer always transfers with PresetTransfer; the
// remaining presets cover the launch-side operations that share this policy
// object.
const (
	PresetTokenCreation = "token_creation"
	PresetBuy           = "buy"
	PresetSell          = "sell"
	PresetTransfer      = "transfer"
	PresetUltraFastBuy  = "ultra_fast_buy"
)

// FeePresets returns the built-in policy table.
func FeePresets() map[string]FeePolicy {
	return map[string]FeePolicy{
		PresetTokenCreation: {Base: 5e6, Multiplier: 1.5, Min: 1e6, Max: 5e7},
		PresetBuy:           {Base: 2e6, Multiplier: 1.5, Min: 2e5, Max: 2e7},
		PresetSell:          {Base: 2e6, Multiplier: 1.5, Min: 2e5, Max: 2e7},
		PresetTransfer:      {Base: 1e6, Multiplier: 1.5, Min: 1e5, Max: 1e7},
		PresetUltraFastBuy:  {Base: 1e7, Multiplier: 2, Min: 1e6, Max: 1e8},
	}
}

// DefaultFeePolicy is the transfer preset used by the mixer.
func DefaultFeePolicy() FeePolicy {
	return FeePresets()[PresetTransfer]
}
