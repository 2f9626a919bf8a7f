package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// fakeLedger is the synchronous in-memory ledger used by gateway, executor
// and mixer tests. Sends decode the system transfer instruction and move
// lamports immediately; hooks inject failures per call site.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]uint64
	statuses map[solana.Signature]SigStatus
	seq      uint64
	slot     uint64

	// sendHook runs before a send is accepted; a non-nil error fails the
	// submission. Called with the decoded transfer.
	sendHook func(from, to solana.PublicKey, amount uint64) error
	// dropTo lists destinations whose inbound transfers are accepted but
	// never confirmed nor applied.
	dropTo map[solana.PublicKey]bool
	// rateLimitNext makes the next n calls (any op) fail as throttled.
	rateLimitNext int

	sends       []fakeSend
	sendCount   int
	statusCalls int
}

type fakeSend struct {
	From   solana.PublicKey
	To     solana.PublicKey
	Amount uint64
	Sig    solana.Signature
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[solana.PublicKey]uint64),
		statuses: make(map[solana.Signature]SigStatus),
		dropTo:   make(map[solana.PublicKey]bool),
	}
}

func (f *fakeLedger) fund(addr solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = lamports
}

func (f *fakeLedger) balanceOf(addr solana.PublicKey) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[addr]
}

func (f *fakeLedger) throttled() error {
	if f.rateLimitNext > 0 {
		f.rateLimitNext--
		return fmt.Errorf("%w: 429 Too Many Requests", ErrRateLimited)
	}
	return nil
}

func (f *fakeLedger) LatestBlockhash(_ context.Context, _ Commitment) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.throttled(); err != nil {
		return solana.Hash{}, err
	}
	f.slot++
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[:8], f.slot)
	return h, nil
}

func (f *fakeLedger) Balance(_ context.Context, addr solana.PublicKey, _ Commitment) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.throttled(); err != nil {
		return 0, err
	}
	return f.balances[addr], nil
}

func (f *fakeLedger) SendTransaction(_ context.Context, tx *solana.Transaction, _ SendOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.throttled(); err != nil {
		return solana.Signature{}, err
	}
	f.sendCount++

	from, to, amount, err := decodeSystemTransfer(tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if f.sendHook != nil {
		if err := f.sendHook(from, to, amount); err != nil {
			return solana.Signature{}, err
		}
	}

	f.seq++
	var sig solana.Signature
	binary.LittleEndian.PutUint64(sig[:8], f.seq)
	f.sends = append(f.sends, fakeSend{From: from, To: to, Amount: amount, Sig: sig})

	if f.dropTo[to] {
		f.statuses[sig] = SigStatus{}
		return sig, nil
	}
	if f.balances[from] < amount {
		return solana.Signature{}, fmt.Errorf("insufficient lamports %d < %d", f.balances[from], amount)
	}
	f.balances[from] -= amount
	f.balances[to] += amount
	f.statuses[sig] = SigStatus{Confirmation: CommitmentFinalized}
	return sig, nil
}

func (f *fakeLedger) SignatureStatuses(_ context.Context, sigs []solana.Signature) ([]SigStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.throttled(); err != nil {
		return nil, err
	}
	f.statusCalls++
	out := make([]SigStatus, len(sigs))
	for i, sig := range sigs {
		out[i] = f.statuses[sig]
	}
	return out, nil
}

func (f *fakeLedger) AccountData(_ context.Context, _ solana.PublicKey, _ Commitment) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.throttled(); err != nil {
		return nil, err
	}
	return nil, nil
}

// decodeSystemTransfer extracts the single system transfer carried by tx,
// skipping compute budget instructions.
func decodeSystemTransfer(tx *solana.Transaction) (from, to solana.PublicKey, amount uint64, err error) {
	msg := tx.Message
	for _, inst := range msg.Instructions {
		prog, perr := msg.Program(inst.ProgramIDIndex)
		if perr != nil {
			return from, to, 0, perr
		}
		if !prog.Equals(system.ProgramID) {
			continue
		}
		data := []byte(inst.Data)
		if len(data) < 12 || binary.LittleEndian.Uint32(data[:4]) != 2 {
			continue
		}
		if len(inst.Accounts) < 2 {
			return from, to, 0, fmt.Errorf("transfer with %d accounts", len(inst.Accounts))
		}
		from = msg.AccountKeys[inst.Accounts[0]]
		to = msg.AccountKeys[inst.Accounts[1]]
		amount = binary.LittleEndian.Uint64(data[4:12])
		return from, to, amount, nil
	}
	return from, to, 0, fmt.Errorf("no system transfer in transaction")
}
