package core

// RpcGateway — process-wide rate-limited façade over one ledger endpoint.
//
// Two token buckets gate all outbound traffic: a request bucket for reads and
// a much tighter transaction bucket for sends, so balance polling can never
// starve send_transaction. Bucket consumption is serialized by the limiters;
// the I/O itself runs concurrently up to the bucket allowance.

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	logrus "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RpcLimits configure the gateway buckets.
type RpcLimits struct {
	ReqPerSec float64 `mapstructure:"req_per_sec" json:"req_per_sec" yaml:"req_per_sec"`
	TxPerSec  float64 `mapstructure:"tx_per_sec" json:"tx_per_sec" yaml:"tx_per_sec"`
	Burst     int     `mapstructure:"burst" json:"burst" yaml:"burst"`
}

// DefaultRpcLimits mirror a conservative shared-endpoint allowance.
func DefaultRpcLimits() RpcLimits {
	return RpcLimits{ReqPerSec: 50, TxPerSec: 5, Burst: 10}
}

// backoffPolicy shapes throttle retries: exponential with jitter.
type backoffPolicy struct {
	initial time.Duration
	factor  int
	cap     time.Duration
	retries int
	jitter  float64
}

func defaultBackoff() backoffPolicy {
	return backoffPolicy{
		initial: 500 * time.Millisecond,
		factor:  2,
		cap:     8 * time.Second,
		retries: 5,
		jitter:  0.25,
	}
}

// RpcGateway wraps a LedgerClient with rate limiting and retry policy.
type RpcGateway struct {
	client LedgerClient
	logger *logrus.Logger

	reqBucket *rate.Limiter
	txBucket  *rate.Limiter
	backoff   backoffPolicy
}

// NewRpcGateway builds a gateway over client with the given limits.
func NewRpcGateway(client LedgerClient, limits RpcLimits, lg *logrus.Logger) *RpcGateway {
	if limits.ReqPerSec <= 0 {
		limits.ReqPerSec = DefaultRpcLimits().ReqPerSec
	}
	if limits.TxPerSec <= 0 {
		limits.TxPerSec = DefaultRpcLimits().TxPerSec
	}
	if limits.Burst <= 0 {
		limits.Burst = DefaultRpcLimits().Burst
	}
	txBurst := limits.Burst / 2
	if txBurst < 1 {
		txBurst = 1
	}
	return &RpcGateway{
		client:    client,
		logger:    lg,
		reqBucket: rate.NewLimiter(rate.Limit(limits.ReqPerSec), limits.Burst),
		txBucket:  rate.NewLimiter(rate.Limit(limits.TxPerSec), txBurst),
		backoff:   defaultBackoff(),
	}
}

// LatestBlockhash returns a recent block identifier for signing.
func (g *RpcGateway) LatestBlockhash(ctx context.Context, commitment Commitment) (solana.Hash, error) {
	var out solana.Hash
	err := g.call(ctx, g.reqBucket, "latest_blockhash", func() error {
		h, err := g.client.LatestBlockhash(ctx, commitment)
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

// Balance reads the lamport balance of addr at the given commitment.
func (g *RpcGateway) Balance(ctx context.Context, addr solana.PublicKey, commitment Commitment) (uint64, error) {
	var out uint64
	err := g.call(ctx, g.reqBucket, "balance", func() error {
		b, err := g.client.Balance(ctx, addr, commitment)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// SendTransaction submits a signed transaction through the tx bucket.
func (g *RpcGateway) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOpts) (solana.Signature, error) {
	var out solana.Signature
	err := g.call(ctx, g.txBucket, "send_transaction", func() error {
		sig, err := g.client.SendTransaction(ctx, tx, opts)
		if err != nil {
			return err
		}
		out = sig
		return nil
	})
	return out, err
}

// SignatureStatuses queries a batch of in-flight signatures in one call.
func (g *RpcGateway) SignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]SigStatus, error) {
	var out []SigStatus
	err := g.call(ctx, g.reqBucket, "signature_statuses", func() error {
		st, err := g.client.SignatureStatuses(ctx, sigs)
		if err != nil {
			return err
		}
		if len(st) != len(sigs) {
			return fmt.Errorf("%w: %d statuses for %d signatures", ErrRpcProtocol, len(st), len(sigs))
		}
		out = st
		return nil
	})
	return out, err
}

// SignatureStatus is the single-signature convenience wrapper.
func (g *RpcGateway) SignatureStatus(ctx context.Context, sig solana.Signature) (SigStatus, error) {
	st, err := g.SignatureStatuses(ctx, []solana.Signature{sig})
	if err != nil {
		return SigStatus{}, err
	}
	return st[0], nil
}

// AccountData fetches raw account bytes, nil when the account is absent.
func (g *RpcGateway) AccountData(ctx context.Context, addr solana.PublicKey, commitment Commitment) ([]byte, error) {
	var out []byte
	err := g.call(ctx, g.reqBucket, "account_data", func() error {
		d, err := g.client.AccountData(ctx, addr, commitment)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// call consumes one token from bucket and runs fn, retrying throttle replies
// with exponential back-off until the retry budget is exceeded.
func (g *RpcGateway) call(ctx context.Context, bucket *rate.Limiter, op string, fn func() error) error {
	delay := g.backoff.initial
	for attempt := 0; ; attempt++ {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isRateLimited(err) {
			return err
		}
		if attempt+1 >= g.backoff.retries {
			return fmt.Errorf("%w: %s after %d attempts: %v", ErrRpcExhausted, op, attempt+1, err)
		}
		sleep := g.backoff.spread(delay)
		g.logger.Debugf("rpc: %s throttled, retry %d in %s", op, attempt+1, sleep)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= time.Duration(g.backoff.factor)
		if delay > g.backoff.cap {
			delay = g.backoff.cap
		}
	}
}

// spread widens a delay by ±jitter so throttled callers do not retry in step.
func (p backoffPolicy) spread(d time.Duration) time.Duration {
	f := 1 - p.jitter + 2*p.jitter*rand.Float64()
	return time.Duration(float64(d) * f)
}

// isRateLimited classifies provider throttle replies.
func isRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests")
}
