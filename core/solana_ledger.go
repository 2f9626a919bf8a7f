package core

// SolanaLedger — LedgerClient implementation over the Solana JSON-RPC
// protocol. This is the only file that touches the rpc transport; everything
// above it speaks the LedgerClient interface.

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaLedger speaks to one configured RPC endpoint.
type SolanaLedger struct {
	rpc *rpc.Client
}

// NewSolanaLedger dials endpoint (normally from RPC_ENDPOINT).
func NewSolanaLedger(endpoint string) (*SolanaLedger, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ledger: empty rpc endpoint")
	}
	return &SolanaLedger{rpc: rpc.New(endpoint)}, nil
}

func toRpcCommitment(c Commitment) rpc.CommitmentType {
	switch c {
	case CommitmentProcessed:
		return rpc.CommitmentProcessed
	case CommitmentFinalized:
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

func (l *SolanaLedger) LatestBlockhash(ctx context.Context, commitment Commitment) (solana.Hash, error) {
	out, err := l.rpc.GetLatestBlockhash(ctx, toRpcCommitment(commitment))
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("%w: empty blockhash reply", ErrRpcProtocol)
	}
	return out.Value.Blockhash, nil
}

func (l *SolanaLedger) Balance(ctx context.Context, addr solana.PublicKey, commitment Commitment) (uint64, error) {
	out, err := l.rpc.GetBalance(ctx, addr, toRpcCommitment(commitment))
	if err != nil {
		return 0, err
	}
	if out == nil {
		return 0, fmt.Errorf("%w: empty balance reply", ErrRpcProtocol)
	}
	return out.Value, nil
}

func (l *SolanaLedger) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOpts) (solana.Signature, error) {
	maxRetries := uint(opts.MaxRetries)
	return l.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: toRpcCommitment(opts.Commitment),
		MaxRetries:          &maxRetries,
	})
}

func (l *SolanaLedger) SignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]SigStatus, error) {
	out, err := l.rpc.GetSignatureStatuses(ctx, true, sigs...)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) != len(sigs) {
		return nil, fmt.Errorf("%w: status count mismatch", ErrRpcProtocol)
	}
	statuses := make([]SigStatus, len(sigs))
	for i, st := range out.Value {
		if st == nil {
			continue
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusProcessed:
			statuses[i].Confirmation = CommitmentProcessed
		case rpc.ConfirmationStatusConfirmed:
			statuses[i].Confirmation = CommitmentConfirmed
		case rpc.ConfirmationStatusFinalized:
			statuses[i].Confirmation = CommitmentFinalized
		}
		if st.Err != nil {
			statuses[i].Err = fmt.Errorf("transaction error: %v", st.Err)
		}
	}
	return statuses, nil
}

func (l *SolanaLedger) AccountData(ctx context.Context, addr solana.PublicKey, commitment Commitment) ([]byte, error) {
	out, err := l.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: toRpcCommitment(commitment),
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}
	return out.Value.Data.GetBinary(), nil
}
