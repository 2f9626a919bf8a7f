package core

// WalletPool — allocation lifecycle over the persisted hop-wallet set.
//
// The pool owns no wallet state of its own; every transition goes through the
// store's atomic operations so a crash mid-route leaves allocations visible
// as in_use rather than lost.

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	logrus "github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
)

const defaultGrowthStep = 16

// WalletPool manages hop-wallet discovery, reservation, release and growth.
type WalletPool struct {
	store  WalletStore
	vault  *KeyVault
	logger *logrus.Logger

	// GrowthStep bounds how many wallets one EnsureHealth pass generates.
	GrowthStep int
}

// NewWalletPool wires a pool over the given store and vault.
func NewWalletPool(store WalletStore, vault *KeyVault, lg *logrus.Logger) *WalletPool {
	return &WalletPool{store: store, vault: vault, logger: lg, GrowthStep: defaultGrowthStep}
}

// Stats snapshots per-status wallet counts.
func (p *WalletPool) Stats(ctx context.Context) (PoolStats, error) {
	return p.store.Stats(ctx)
}

// Acquire reserves exactly n available wallets for requestID in one atomic
// store operation. Fails with ErrPoolExhausted when fewer are available.
func (p *WalletPool) Acquire(ctx context.Context, n int, requestID string) ([]*HopWallet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("acquire: non-positive count %d", n)
	}
	ws, err := p.store.Claim(ctx, n, requestID)
	if err != nil {
		return nil, err
	}
	p.logger.Debugf("pool: acquired %d wallets for %s", len(ws), requestID)
	return ws, nil
}

// Release returns a wallet after route use. A used wallet moves to cooling
// until its on-chain balance is confirmed drained; an untouched wallet goes
// straight back to available.
func (p *WalletPool) Release(ctx context.Context, w *HopWallet, outcome ReleaseOutcome) error {
	switch outcome {
	case ReleaseUsed:
		if err := p.store.UpdateStatus(ctx, w.PublicKey, StatusInUse, StatusCooling); err != nil {
			return err
		}
		return p.store.MarkUsed(ctx, w.PublicKey)
	case ReleaseUnused:
		return p.store.UpdateStatus(ctx, w.PublicKey, StatusInUse, StatusAvailable)
	default:
		return fmt.Errorf("release: unknown outcome %d", outcome)
	}
}

// MarkCoolZero moves a cooling wallet back to available after its balance was
// observed at or below the dust threshold.
func (p *WalletPool) MarkCoolZero(ctx context.Context, w *HopWallet) error {
	return p.store.UpdateStatus(ctx, w.PublicKey, StatusCooling, StatusAvailable)
}

// MarkError parks a wallet in the error state from whatever state it is in.
func (p *WalletPool) MarkError(ctx context.Context, w *HopWallet) {
	cur, err := p.store.Get(ctx, w.PublicKey)
	if err != nil {
		p.logger.Warnf("pool: mark error, fetch %s: %v", w.PublicKey, err)
		return
	}
	if cur.Status == StatusError {
		return
	}
	if err := p.store.UpdateStatus(ctx, w.PublicKey, cur.Status, StatusError); err != nil {
		p.logger.Warnf("pool: mark error %s: %v", w.PublicKey, err)
	}
}

// EnsureHealth grows the pool until at least target wallets are available,
// bounded by GrowthStep per call. Generation is batched: keypairs are derived
// from fresh BIP-39 entropy, secrets sealed through the vault and persisted
// as available in one insert.
func (p *WalletPool) EnsureHealth(ctx context.Context, target int) error {
	st, err := p.store.Stats(ctx)
	if err != nil {
		return err
	}
	if st.Available >= target {
		return nil
	}
	missing := target - st.Available
	if missing > p.GrowthStep {
		missing = p.GrowthStep
	}
	batch := make([]*HopWallet, 0, missing)
	now := time.Now()
	for i := 0; i < missing; i++ {
		priv, err := generateHopKeypair()
		if err != nil {
			return fmt.Errorf("pool: keygen: %w", err)
		}
		pub := solana.PrivateKey(priv).PublicKey()
		sealed, err := p.vault.Encrypt(priv)
		Wipe(priv)
		if err != nil {
			return fmt.Errorf("pool: seal secret: %w", err)
		}
		batch = append(batch, &HopWallet{
			PublicKey:       pub,
			EncryptedSecret: sealed,
			Status:          StatusAvailable,
			CreatedAt:       now,
		})
	}
	if err := p.store.Insert(ctx, batch); err != nil {
		return fmt.Errorf("pool: persist batch: %w", err)
	}
	p.logger.Infof("pool: grew by %d wallets (available %d, target %d)", len(batch), st.Available+len(batch), target)
	return nil
}

// KeypairOf decrypts w's secret into signing material. A failed decryption
// marks the wallet error and surfaces ErrDecryptionFailed.
func (p *WalletPool) KeypairOf(ctx context.Context, w *HopWallet) (solana.PrivateKey, error) {
	plain, err := p.vault.Decrypt(w.EncryptedSecret)
	if err != nil {
		p.MarkError(ctx, w)
		return nil, fmt.Errorf("%w: wallet %s: %v", ErrDecryptionFailed, w.PublicKey, err)
	}
	if len(plain) != ed25519.PrivateKeySize {
		p.MarkError(ctx, w)
		return nil, fmt.Errorf("%w: wallet %s: secret length %d", ErrDecryptionFailed, w.PublicKey, len(plain))
	}
	priv := solana.PrivateKey(plain)
	if !priv.PublicKey().Equals(w.PublicKey) {
		p.MarkError(ctx, w)
		return nil, fmt.Errorf("%w: wallet %s: key mismatch", ErrDecryptionFailed, w.PublicKey)
	}
	return priv, nil
}

// generateHopKeypair derives one ed25519 private key from fresh mnemonic
// entropy. The mnemonic is never stored; hop wallets are disposable and
// recoverable only through the encrypted pool record.
func generateHopKeypair() ([]byte, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, err
	}
	seed := bip39.NewSeed(mnemonic, "")
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	Wipe(seed)
	return priv, nil
}
