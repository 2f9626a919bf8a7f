package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

func testGateway(f *fakeLedger, limits RpcLimits) *RpcGateway {
	g := NewRpcGateway(f, limits, quietLogger())
	// Shrink the back-off so throttle tests stay fast.
	g.backoff.initial = 2 * time.Millisecond
	g.backoff.cap = 10 * time.Millisecond
	return g
}

func TestGatewayRetriesThrottle(t *testing.T) {
	f := newFakeLedger()
	addr := solana.NewWallet().PublicKey()
	f.fund(addr, 777)
	f.rateLimitNext = 2
	g := testGateway(f, RpcLimits{ReqPerSec: 1000, TxPerSec: 1000, Burst: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bal, err := g.Balance(ctx, addr, CommitmentConfirmed)
	if err != nil {
		t.Fatalf("balance after throttle: %v", err)
	}
	if bal != 777 {
		t.Fatalf("got %d", bal)
	}
}

func TestGatewayExhaustsAfterFiveThrottles(t *testing.T) {
	f := newFakeLedger()
	f.rateLimitNext = 5
	g := testGateway(f, RpcLimits{ReqPerSec: 1000, TxPerSec: 1000, Burst: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	_, err := g.Balance(ctx, solana.NewWallet().PublicKey(), CommitmentConfirmed)
	if !errors.Is(err, ErrRpcExhausted) {
		t.Fatalf("want ErrRpcExhausted, got %v", err)
	}
}

func TestGatewayStatusBatchShape(t *testing.T) {
	f := newFakeLedger()
	g := testGateway(f, DefaultRpcLimits())
	sigs := []solana.Signature{{1}, {2}, {3}}
	st, err := g.SignatureStatuses(context.Background(), sigs)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(st) != 3 {
		t.Fatalf("got %d statuses", len(st))
	}
	if f.statusCalls != 1 {
		t.Fatalf("batch used %d calls", f.statusCalls)
	}
}

func TestGatewayTxBucketPacesSends(t *testing.T) {
	// With tx_per_sec=10 and a tx burst of 1 (burst 2 halved), five sends
	// must spread over at least ~400ms of limiter waits.
	f := newFakeLedger()
	from := solana.NewWallet()
	to := solana.NewWallet().PublicKey()
	f.fund(from.PublicKey(), 1_000_000)
	g := testGateway(f, RpcLimits{ReqPerSec: 1000, TxPerSec: 10, Burst: 2})

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		bh, err := g.LatestBlockhash(ctx, CommitmentFinalized)
		if err != nil {
			t.Fatalf("blockhash: %v", err)
		}
		tx, err := buildTransferTx(bh, from.PrivateKey, nil, to, 1000, 0)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, err := g.SendTransaction(ctx, tx, SendOpts{SkipPreflight: true}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 350*time.Millisecond {
		t.Fatalf("five sends finished in %s, bucket not enforced", elapsed)
	}
}

func TestCommitmentOrdering(t *testing.T) {
	cases := []struct {
		name   string
		level  Commitment
		target Commitment
		want   bool
	}{
		{"ConfirmedReachesConfirmed", CommitmentConfirmed, CommitmentConfirmed, true},
		{"FinalizedReachesConfirmed", CommitmentFinalized, CommitmentConfirmed, true},
		{"ProcessedBelowConfirmed", CommitmentProcessed, CommitmentConfirmed, false},
		{"UnsetBelowProcessed", Commitment(""), CommitmentProcessed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.level.AtLeast(tc.target); got != tc.want {
				t.Fatalf("AtLeast(%s, %s) = %v", tc.level, tc.target, got)
			}
		})
	}
}
