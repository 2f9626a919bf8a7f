package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// MemoryWalletStore keeps the pool in process memory. It backs tests and
// ephemeral runs where DATABASE_URL is unset; the mutex gives it the same
// atomic claim semantics as the SQL store.
type MemoryWalletStore struct {
	mu        sync.Mutex
	wallets   map[solana.PublicKey]*HopWallet
	transfers []*TransferLog
}

// NewMemoryWalletStore returns an empty in-memory store.
func NewMemoryWalletStore() *MemoryWalletStore {
	return &MemoryWalletStore{wallets: make(map[solana.PublicKey]*HopWallet)}
}

func (s *MemoryWalletStore) Insert(_ context.Context, ws []*HopWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range ws {
		if _, dup := s.wallets[w.PublicKey]; dup {
			return fmt.Errorf("wallet %s already present", w.PublicKey)
		}
		cp := *w
		s.wallets[w.PublicKey] = &cp
	}
	return nil
}

func (s *MemoryWalletStore) Claim(_ context.Context, n int, requestID string) ([]*HopWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	avail := make([]*HopWallet, 0, n)
	for _, w := range s.wallets {
		if w.Status == StatusAvailable {
			avail = append(avail, w)
		}
	}
	if len(avail) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrPoolExhausted, n, len(avail))
	}
	// Oldest first keeps rotation even across the pool; the key tiebreak
	// keeps claim order deterministic within one insert batch.
	sort.Slice(avail, func(i, j int) bool {
		if !avail[i].CreatedAt.Equal(avail[j].CreatedAt) {
			return avail[i].CreatedAt.Before(avail[j].CreatedAt)
		}
		return avail[i].PublicKey.String() < avail[j].PublicKey.String()
	})

	now := time.Now()
	out := make([]*HopWallet, 0, n)
	for _, w := range avail[:n] {
		w.Status = StatusInUse
		w.AllocatedTo = requestID
		w.AllocatedAt = &now
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryWalletStore) UpdateStatus(_ context.Context, key solana.PublicKey, from, to WalletStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[key]
	if !ok {
		return fmt.Errorf("wallet %s not found", key)
	}
	if w.Status != from {
		return fmt.Errorf("wallet %s status is %s, expected %s", key, w.Status, from)
	}
	w.Status = to
	if to == StatusAvailable {
		w.AllocatedTo = ""
		w.AllocatedAt = nil
	}
	return nil
}

func (s *MemoryWalletStore) MarkUsed(_ context.Context, key solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[key]
	if !ok {
		return fmt.Errorf("wallet %s not found", key)
	}
	now := time.Now()
	w.UsageCount++
	w.LastUsed = &now
	return nil
}

func (s *MemoryWalletStore) Get(_ context.Context, key solana.PublicKey) (*HopWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[key]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", key)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryWalletStore) List(_ context.Context, filter WalletStatus) ([]*HopWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*HopWallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		if filter != "" && w.Status != filter {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PublicKey.String() < out[j].PublicKey.String()
	})
	return out, nil
}

func (s *MemoryWalletStore) Stats(_ context.Context) (PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := PoolStats{Total: len(s.wallets)}
	for _, w := range s.wallets {
		switch w.Status {
		case StatusAvailable:
			st.Available++
		case StatusInUse:
			st.InUse++
		case StatusCooling:
			st.Cooling++
		case StatusError:
			st.Error++
		}
	}
	return st, nil
}

func (s *MemoryWalletStore) AppendTransfer(_ context.Context, tl *TransferLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tl
	s.transfers = append(s.transfers, &cp)
	return nil
}

// Transfers returns a copy of the audit log, oldest first.
func (s *MemoryWalletStore) Transfers() []*TransferLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TransferLog, len(s.transfers))
	copy(out, s.transfers)
	return out
}

func (s *MemoryWalletStore) Close() error { return nil }
