package core

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Commitment is the ledger's confidence level for a queried state.
// Ordering: processed < confirmed < finalized.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// AtLeast reports whether c reaches the target confidence level.
func (c Commitment) AtLeast(target Commitment) bool {
	return c.rank() >= target.rank()
}

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// SendOpts tune one transaction submission.
type SendOpts struct {
	SkipPreflight bool
	Commitment    Commitment
	MaxRetries    uint
}

// SigStatus is the observed state of one submitted signature. A zero
// Confirmation means the ledger has not seen the signature yet.
type SigStatus struct {
	Confirmation Commitment
	Err          error
}

// LedgerClient is the raw RPC surface of the ledger. The production
// implementation speaks Solana JSON-RPC; tests inject a synchronous fake.
// All methods may block on network I/O and honor ctx cancellation.
type LedgerClient interface {
	LatestBlockhash(ctx context.Context, commitment Commitment) (solana.Hash, error)
	Balance(ctx context.Context, addr solana.PublicKey, commitment Commitment) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOpts) (solana.Signature, error)
	SignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]SigStatus, error)
	AccountData(ctx context.Context, addr solana.PublicKey, commitment Commitment) ([]byte, error)
}
