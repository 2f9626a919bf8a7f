package core

import "testing"

func TestFeePolicyEscalation(t *testing.T) {
	p := DefaultFeePolicy()
	cases := []struct {
		name    string
		attempt int
		want    uint64
	}{
		{"FirstAttempt", 0, 1_000_000},
		{"SecondAttempt", 1, 1_500_000},
		{"ThirdAttempt", 2, 2_250_000},
		{"NegativeClamped", -3, 1_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.PriceFor(tc.attempt); got != tc.want {
				t.Fatalf("PriceFor(%d) = %d, want %d", tc.attempt, got, tc.want)
			}
		})
	}
}

func TestFeePolicyClampsAtMax(t *testing.T) {
	p := DefaultFeePolicy()
	if got := p.PriceFor(50); got != uint64(p.Max) {
		t.Fatalf("escalation escaped max: %d", got)
	}
}

func TestFeePolicyClampsAtMin(t *testing.T) {
	p := FeePolicy{Base: 1, Multiplier: 1.5, Min: 100_000, Max: 10_000_000}
	if got := p.PriceFor(0); got != 100_000 {
		t.Fatalf("floor not applied: %d", got)
	}
}

func TestFeePresetsCoverOperations(t *testing.T) {
	presets := FeePresets()
	for _, name := range []string{PresetTokenCreation, PresetBuy, PresetSell, PresetTransfer, PresetUltraFastBuy} {
		p, ok := presets[name]
		if !ok {
			t.Fatalf("preset %s missing", name)
		}
		if p.Base <= 0 || p.Min <= 0 || p.Max < p.Min {
			t.Fatalf("preset %s malformed: %+v", name, p)
		}
	}
}
