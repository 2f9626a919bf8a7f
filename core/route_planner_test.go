package core

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestDistributeAmountsSumPreserving(t *testing.T) {
	cases := []struct {
		name  string
		total uint64
		n     int
	}{
		{"TwoWay", 1_000_000_000, 2},
		{"FiveWay", 999_999_937, 5},
		{"ManySmall", 2_000_000, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := distributeAmounts(tc.total, tc.n, nil, 20_000, 10_000)
			if err != nil {
				t.Fatalf("distribute: %v", err)
			}
			if len(out) != tc.n {
				t.Fatalf("got %d amounts", len(out))
			}
			var sum uint64
			for i, a := range out {
				if a < 20_000 {
					t.Fatalf("amount %d below floor: %d", i, a)
				}
				sum += a
			}
			if sum != tc.total {
				t.Fatalf("sum %d != total %d", sum, tc.total)
			}
		})
	}
}

func TestDistributeAmountsJitterSpread(t *testing.T) {
	// With a large even total the jittered vector should not be flat.
	out, err := distributeAmounts(10_000_000_000, 8, nil, 20_000, 10_000)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	flat := true
	for _, a := range out[1:] {
		if a != out[0] {
			flat = false
			break
		}
	}
	if flat {
		t.Fatal("distribution came out perfectly flat; jitter not applied")
	}
}

func TestDistributeAmountsSingleDestination(t *testing.T) {
	out, err := distributeAmounts(123_456_789, 1, nil, 20_000, 10_000)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(out) != 1 || out[0] != 123_456_789 {
		t.Fatalf("single destination must receive the full total, got %v", out)
	}
}

func TestDistributeAmountsCustom(t *testing.T) {
	cases := []struct {
		name    string
		total   uint64
		custom  []uint64
		wantErr bool
	}{
		{"Valid", 300_000, []uint64{100_000, 150_000}, false},
		{"SumExceedsTotal", 200_000, []uint64{100_000, 150_000}, true},
		{"AtDust", 300_000, []uint64{10_000, 150_000}, true},
		{"LengthMismatch", 300_000, []uint64{100_000, 50_000, 50_000}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := distributeAmounts(tc.total, 2, tc.custom, 20_000, 10_000)
			if tc.wantErr {
				if !errors.Is(err, ErrBadRequest) {
					t.Fatalf("want ErrBadRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("distribute: %v", err)
			}
			for i, a := range out {
				if a != tc.custom[i] {
					t.Fatalf("custom amounts not verbatim: %v", out)
				}
			}
		})
	}
}

func TestDistributeAmountsTotalBelowFloor(t *testing.T) {
	if _, err := distributeAmounts(30_000, 4, nil, 20_000, 10_000); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("want ErrBadRequest, got %v", err)
	}
}

func TestPlanDisjointIntermediaries(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 8)
	pl := NewRoutePlanner(pool, quietLogger())

	cfg := DefaultMixConfig()
	cfg.HopCount = 4
	source := solana.NewWallet()
	req := &MixRequest{
		SourceSecret: source.PrivateKey,
		TotalAmount:  1_000_000,
		Destinations: []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()},
	}
	routes, err := pl.Plan(ctx, req, cfg, "req-plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes", len(routes))
	}
	seen := make(map[string]bool)
	for _, r := range routes {
		if r.HopCount() != 4 {
			t.Fatalf("route has %d hops", r.HopCount())
		}
		if len(r.Keys) != 4 {
			t.Fatalf("route snapshot has %d keys", len(r.Keys))
		}
		for _, w := range r.Wallets {
			if seen[w.PublicKey.String()] {
				t.Fatalf("intermediary %s shared between routes", w.PublicKey)
			}
			seen[w.PublicKey.String()] = true
		}
	}
	var sum uint64
	for _, r := range routes {
		sum += r.Amount
	}
	if sum != req.TotalAmount {
		t.Fatalf("route amounts sum %d != total %d", sum, req.TotalAmount)
	}
}

func TestPlanGrowsPoolOnce(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 4)
	pool.GrowthStep = 16
	pl := NewRoutePlanner(pool, quietLogger())

	cfg := DefaultMixConfig()
	cfg.HopCount = 8
	req := &MixRequest{
		SourceSecret: solana.NewWallet().PrivateKey,
		TotalAmount:  1_000_000,
		Destinations: []solana.PublicKey{solana.NewWallet().PublicKey()},
	}
	routes, err := pl.Plan(ctx, req, cfg, "req-grow")
	if err != nil {
		t.Fatalf("plan after growth: %v", err)
	}
	if routes[0].HopCount() != 8 {
		t.Fatalf("route has %d hops", routes[0].HopCount())
	}
}

func TestPlanInsufficientPoolWhenGrowthTooSmall(t *testing.T) {
	// 8 available, two routes of 8, growth step below the shortage.
	ctx := context.Background()
	pool, _ := newTestPool(t, 8)
	pool.GrowthStep = 4
	pl := NewRoutePlanner(pool, quietLogger())

	cfg := DefaultMixConfig()
	cfg.HopCount = 8
	req := &MixRequest{
		SourceSecret: solana.NewWallet().PrivateKey,
		TotalAmount:  1_000_000,
		Destinations: []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()},
	}
	_, err := pl.Plan(ctx, req, cfg, "req-short")
	if !errors.Is(err, ErrInsufficientPool) {
		t.Fatalf("want ErrInsufficientPool, got %v", err)
	}
	// Everything acquired during the failed plan must be back in circulation.
	st, _ := pool.Stats(ctx)
	if st.InUse != 0 {
		t.Fatalf("failed plan leaked %d in_use wallets", st.InUse)
	}
}

func TestFundingAmountBudget(t *testing.T) {
	r := &Route{Amount: 500_000, PerHopFee: 5_000, Margin: 10_000, Wallets: make([]*HopWallet, 4)}
	if got := r.FundingAmount(); got != 500_000+4*5_000+10_000 {
		t.Fatalf("funding amount %d", got)
	}
	if got := r.ExpectedAt(3); got != 500_000+5_000+10_000 {
		t.Fatalf("expected at last hop %d", got)
	}
}
