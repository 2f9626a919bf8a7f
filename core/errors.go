package core

import "errors"

// Error kinds surfaced at the mixer boundary. Components wrap these with
// context via fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	// ErrBadRequest covers malformed addresses, non-positive amounts, empty
	// destination sets and amount-sum mismatches.
	ErrBadRequest = errors.New("bad request")

	// ErrBadFormat reports a ciphertext that is not IVhex:CIPHERTEXThex.
	ErrBadFormat = errors.New("ciphertext format invalid")

	// ErrBadKey reports an integrity or padding failure during decryption,
	// i.e. the ciphertext did not match the derived key.
	ErrBadKey = errors.New("decryption key mismatch")

	// ErrDecryptionFailed marks a hop wallet whose stored secret could not be
	// recovered. The wallet is moved to StatusError before this surfaces.
	ErrDecryptionFailed = errors.New("wallet secret decryption failed")

	// ErrPoolExhausted is returned by a single Acquire that cannot supply the
	// requested number of available wallets.
	ErrPoolExhausted = errors.New("wallet pool exhausted")

	// ErrInsufficientPool is the planner-level failure after pool growth was
	// attempted and the pool still cannot cover the request.
	ErrInsufficientPool = errors.New("insufficient wallet pool")

	// ErrInsufficientFunds reports a source or intermediary balance below the
	// required amount plus fee buffer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRpcExhausted reports that gateway retries were exceeded.
	ErrRpcExhausted = errors.New("rpc retries exhausted")

	// ErrRpcProtocol reports an unparseable or structurally invalid reply.
	ErrRpcProtocol = errors.New("rpc protocol error")

	// ErrRateLimited is the classified provider throttle reply. The gateway
	// backs off and retries before converting it into ErrRpcExhausted.
	ErrRateLimited = errors.New("rpc rate limited")

	// ErrHopTimeout reports that an expected balance did not appear within
	// the configured balance check timeout, or that a submitted transfer was
	// not confirmed within the confirmation timeout.
	ErrHopTimeout = errors.New("hop balance timeout")

	// ErrCancelled reports caller-initiated cancellation.
	ErrCancelled = errors.New("mix cancelled")

	// ErrPartialFailure aggregates a mix where at least one route failed; the
	// MixResult still carries per-route detail.
	ErrPartialFailure = errors.New("partial mix failure")

	// ErrUnknownConfigKey rejects configuration input carrying options the
	// mixer does not recognize.
	ErrUnknownConfigKey = errors.New("unknown config key")
)
