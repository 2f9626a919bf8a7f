package core

// RoutePlanner — turns one MixRequest into per-destination route plans:
// amount distribution, intermediary acquisition and per-hop fee budgeting.

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/gagliardetto/solana-go"
	logrus "github.com/sirupsen/logrus"
)

const amountJitterPct = 0.05

// Route is the transient plan for delivering one destination's amount
// through a chain of pool intermediaries.
type Route struct {
	RequestID   string
	Source      solana.PrivateKey
	FeePayer    solana.PrivateKey // nil: the sending wallet pays
	Wallets     []*HopWallet
	Keys        []solana.PrivateKey // decrypted at acquire time, parallel to Wallets
	Destination solana.PublicKey
	Amount      uint64
	PerHopFee   uint64
	Margin      uint64

	State      RouteState
	Signatures []solana.Signature
	Err        error

	destStartBalance uint64
	cancelled        bool
	pending          *pendingTransfer
	resume           RouteState
}

// HopCount returns the number of intermediaries on the route.
func (r *Route) HopCount() int { return len(r.Wallets) }

// ExpectedAt returns the lamports that must arrive at intermediary i: the
// delivery amount plus fee allowance for every remaining transfer plus the
// safety margin.
func (r *Route) ExpectedAt(i int) uint64 {
	remaining := uint64(r.HopCount() - i)
	return r.Amount + remaining*r.PerHopFee + r.Margin
}

// FundingAmount is the value injected at hop 0 from the source.
func (r *Route) FundingAmount() uint64 { return r.ExpectedAt(0) }

// RoutePlanner allocates intermediaries and distributes amounts.
type RoutePlanner struct {
	pool   *WalletPool
	logger *logrus.Logger
}

// NewRoutePlanner wires a planner over the wallet pool.
func NewRoutePlanner(pool *WalletPool, lg *logrus.Logger) *RoutePlanner {
	return &RoutePlanner{pool: pool, logger: lg}
}

// Plan produces one route per destination. Intermediary sets are disjoint
// across routes because every set comes from a single atomic pool claim under
// the same request id. On exhaustion the pool is grown once; persistent
// shortage surfaces ErrInsufficientPool and releases everything acquired so
// far.
//
// A route whose intermediary secrets cannot be decrypted is returned in the
// failed state rather than aborting its siblings.
func (pl *RoutePlanner) Plan(ctx context.Context, req *MixRequest, cfg *MixConfig, requestID string) ([]*Route, error) {
	amounts, err := distributeAmounts(req.TotalAmount, len(req.Destinations), req.CustomAmounts,
		cfg.MinPerDestination, cfg.DustThreshold)
	if err != nil {
		return nil, err
	}

	routes := make([]*Route, 0, len(req.Destinations))
	grown := false
	for i, dest := range req.Destinations {
		wallets, err := pl.acquireWithGrowth(ctx, cfg.HopCount, requestID, &grown)
		if err != nil {
			pl.releaseAll(ctx, routes)
			return nil, err
		}
		r := &Route{
			RequestID:   requestID,
			Source:      req.SourceSecret,
			FeePayer:    req.FeeSourceSecret,
			Wallets:     wallets,
			Destination: dest,
			Amount:      amounts[i],
			PerHopFee:   cfg.PerHopFee,
			Margin:      cfg.SafetyMargin,
			State:       RouteState{Phase: PhaseFundHead},
		}
		if err := pl.snapshotKeys(ctx, r); err != nil {
			// The broken wallet is already parked in error; the rest of this
			// route's set goes back unused and the route is born failed.
			r.State = RouteState{Phase: PhaseFailed}
			r.Err = err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (pl *RoutePlanner) acquireWithGrowth(ctx context.Context, n int, requestID string, grown *bool) ([]*HopWallet, error) {
	wallets, err := pl.pool.Acquire(ctx, n, requestID)
	if err == nil {
		return wallets, nil
	}
	if !errors.Is(err, ErrPoolExhausted) {
		return nil, err
	}
	if !*grown {
		*grown = true
		st, serr := pl.pool.Stats(ctx)
		if serr != nil {
			return nil, serr
		}
		if gerr := pl.pool.EnsureHealth(ctx, st.Available+n); gerr != nil {
			return nil, gerr
		}
		if wallets, err = pl.pool.Acquire(ctx, n, requestID); err == nil {
			return wallets, nil
		}
	}
	return nil, fmt.Errorf("%w: need %d intermediaries: %v", ErrInsufficientPool, n, err)
}

// snapshotKeys decrypts every intermediary secret into the route. On a failed
// decryption every other wallet of the route is released unused; the failing
// one is already parked in error.
func (pl *RoutePlanner) snapshotKeys(ctx context.Context, r *Route) error {
	r.Keys = make([]solana.PrivateKey, 0, len(r.Wallets))
	for i, w := range r.Wallets {
		priv, err := pl.pool.KeypairOf(ctx, w)
		if err != nil {
			for j, rest := range r.Wallets {
				if j == i {
					continue // already parked in error
				}
				if rerr := pl.pool.Release(ctx, rest, ReleaseUnused); rerr != nil {
					pl.logger.Warnf("planner: release %s: %v", rest.PublicKey, rerr)
				}
			}
			return err
		}
		r.Keys = append(r.Keys, priv)
	}
	return nil
}

func (pl *RoutePlanner) releaseAll(ctx context.Context, routes []*Route) {
	for _, r := range routes {
		if r.State.Phase == PhaseFailed {
			continue
		}
		for _, w := range r.Wallets {
			if err := pl.pool.Release(ctx, w, ReleaseUnused); err != nil {
				pl.logger.Warnf("planner: release %s: %v", w.PublicKey, err)
			}
		}
	}
}

// distributeAmounts computes the per-destination vector. Explicit amounts are
// used verbatim after validation; otherwise the total is split evenly, spread
// by ±5% jitter, clamped to the per-destination floor and rebalanced so the
// vector sums to the input total exactly.
func distributeAmounts(total uint64, n int, custom []uint64, minPer, dust uint64) ([]uint64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: no destinations", ErrBadRequest)
	}
	if len(custom) > 0 {
		if len(custom) != n {
			return nil, fmt.Errorf("%w: %d amounts for %d destinations", ErrBadRequest, len(custom), n)
		}
		var sum uint64
		for i, a := range custom {
			if a <= dust {
				return nil, fmt.Errorf("%w: amount %d for destination %d at or below dust", ErrBadRequest, a, i)
			}
			sum += a
		}
		if sum > total {
			return nil, fmt.Errorf("%w: amounts sum %d exceeds total %d", ErrBadRequest, sum, total)
		}
		out := make([]uint64, n)
		copy(out, custom)
		return out, nil
	}

	if total < uint64(n)*minPer {
		return nil, fmt.Errorf("%w: total %d below %d×%d floor", ErrBadRequest, total, n, minPer)
	}
	base := total / uint64(n)
	remainder := total % uint64(n)
	out := make([]uint64, n)
	for i := range out {
		out[i] = base
		if uint64(i) < remainder {
			out[i]++
		}
	}
	if n == 1 {
		return out, nil
	}

	// Jitter all but the last element; the last absorbs the difference.
	var sum uint64
	for i := 0; i < n-1; i++ {
		f := 1 - amountJitterPct + 2*amountJitterPct*rand.Float64()
		v := uint64(float64(out[i]) * f)
		if v < minPer {
			v = minPer
		}
		out[i] = v
		sum += v
	}
	if sum >= total || total-sum < minPer {
		// Jitter pushed the tail below its floor; shave the surplus above
		// minPer off the leading elements, in order, until the last can hold
		// minPer.
		need := minPer
		if total > sum {
			need = minPer - (total - sum)
		} else {
			need = minPer + (sum - total)
		}
		for i := 0; i < n-1 && need > 0; i++ {
			spare := uint64(0)
			if out[i] > minPer {
				spare = out[i] - minPer
			}
			cut := spare
			if cut > need {
				cut = need
			}
			out[i] -= cut
			sum -= cut
			need -= cut
		}
	}
	out[n-1] = total - sum
	return out, nil
}
