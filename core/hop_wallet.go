package core

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// WalletStatus is the lifecycle state of a pooled hop wallet.
//
// available → in_use on allocation; in_use → cooling on used-release;
// cooling → available once the on-chain balance is confirmed drained;
// any state → error when decryption fails or funds remain stuck after
// recovery.
type WalletStatus string

const (
	StatusAvailable WalletStatus = "available"
	StatusInUse     WalletStatus = "in_use"
	StatusCooling   WalletStatus = "cooling"
	StatusError     WalletStatus = "error"
)

// HopWallet is the persistent record of one pool-managed intermediary.
// The private key is held only as KeyVault ciphertext; decryption happens
// transiently through WalletPool.KeypairOf.
type HopWallet struct {
	PublicKey       solana.PublicKey
	EncryptedSecret string
	Status          WalletStatus
	AllocatedTo     string
	AllocatedAt     *time.Time
	UsageCount      uint64
	LastUsed        *time.Time
	CreatedAt       time.Time
}

// TransferOutcome classifies a per-hop transfer record.
type TransferOutcome string

const (
	TransferPending   TransferOutcome = "pending"
	TransferConfirmed TransferOutcome = "confirmed"
	TransferFailed    TransferOutcome = "failed"
	TransferTimeout   TransferOutcome = "timeout"
)

// TransferLog is the optional audit record of one on-chain hop.
type TransferLog struct {
	RequestID   string
	From        solana.PublicKey
	To          solana.PublicKey
	Amount      uint64
	Signature   solana.Signature
	SubmittedAt time.Time
	ConfirmedAt *time.Time
	Outcome     TransferOutcome
}

// ReleaseOutcome tells the pool whether a returned wallet ever carried funds.
type ReleaseOutcome int

const (
	// ReleaseUsed: the wallet forwarded funds and must cool down until its
	// balance is confirmed drained.
	ReleaseUsed ReleaseOutcome = iota
	// ReleaseUnused: the route aborted before the first hop touched the
	// wallet; it returns straight to the available set.
	ReleaseUnused
)
