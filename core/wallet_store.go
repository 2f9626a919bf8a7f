package core

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// PoolStats is a snapshot of wallet counts per lifecycle state.
type PoolStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Cooling   int `json:"cooling"`
	Error     int `json:"error"`
}

// WalletStore is the driver-agnostic persistence surface for hop wallets.
//
// Claim must be atomic: "select n where status=available, flip to in_use" in
// one transaction, so two concurrent routes can never observe the same wallet
// as available. Any backend with compare-and-set or transactional update-one
// semantics can implement it.
type WalletStore interface {
	// Insert persists freshly generated wallets (status available).
	Insert(ctx context.Context, ws []*HopWallet) error

	// Claim atomically flips exactly n available wallets to in_use, stamping
	// allocated_to and allocated_at. It returns ErrPoolExhausted without side
	// effects when fewer than n are available.
	Claim(ctx context.Context, n int, requestID string) ([]*HopWallet, error)

	// UpdateStatus transitions one wallet from its expected current status.
	// The compare half of the update keeps crashed allocations recoverable
	// instead of silently overwriting concurrent transitions.
	UpdateStatus(ctx context.Context, key solana.PublicKey, from, to WalletStatus) error

	// MarkUsed increments usage_count and stamps last_used alongside the
	// in_use → cooling transition of a used-release.
	MarkUsed(ctx context.Context, key solana.PublicKey) error

	// Get fetches one wallet by public key.
	Get(ctx context.Context, key solana.PublicKey) (*HopWallet, error)

	// List returns wallets filtered by status; empty filter returns all.
	List(ctx context.Context, filter WalletStatus) ([]*HopWallet, error)

	// Stats counts wallets per status.
	Stats(ctx context.Context) (PoolStats, error)

	// AppendTransfer records one hop for audit. Implementations may no-op.
	AppendTransfer(ctx context.Context, tl *TransferLog) error

	Close() error
}
