package core

// Executor — drives each route's hop state machine and schedules routes onto
// a bounded worker pool. All ledger I/O flows through the RpcGateway; the
// state machine itself is pure data (RouteState) advanced by the driver loop,
// so tests can run it against a synchronous fake.

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/computebudget"
	"github.com/gagliardetto/solana-go/programs/system"
	logrus "github.com/sirupsen/logrus"
)

// ExecutorTuning holds the polling cadences. The defaults follow production
// RPC behavior; tests shrink them against the fake ledger.
type ExecutorTuning struct {
	BalancePollInitial time.Duration
	BalancePollFactor  float64
	BalancePollCap     time.Duration
	ConfirmInterval    time.Duration
	ConfirmTimeout     time.Duration
	RecoveryWindow     time.Duration
}

// DefaultExecutorTuning returns the production cadences.
func DefaultExecutorTuning() ExecutorTuning {
	return ExecutorTuning{
		BalancePollInitial: 400 * time.Millisecond,
		BalancePollFactor:  1.5,
		BalancePollCap:     2 * time.Second,
		ConfirmInterval:    2 * time.Second,
		ConfirmTimeout:     30 * time.Second,
		RecoveryWindow:     2 * time.Minute,
	}
}

// pendingTransfer is the hop RECOVERY re-drives: who signs, where to, how
// much.
type pendingTransfer struct {
	signer solana.PrivateKey
	to     solana.PublicKey
	amount uint64
}

// Executor runs route state machines against the gateway.
type Executor struct {
	gateway *RpcGateway
	pool    *WalletPool
	store   WalletStore
	logger  *logrus.Logger
	cfg     *MixConfig
	tuning  ExecutorTuning
	watcher *confirmWatcher
}

// NewExecutor wires an executor for one mix run.
func NewExecutor(gw *RpcGateway, pool *WalletPool, store WalletStore, cfg *MixConfig, tuning ExecutorTuning, lg *logrus.Logger) *Executor {
	return &Executor{
		gateway: gw,
		pool:    pool,
		store:   store,
		logger:  lg,
		cfg:     cfg,
		tuning:  tuning,
		watcher: newConfirmWatcher(gw, tuning.ConfirmInterval, CommitmentConfirmed, lg),
	}
}

// Close stops the confirmation watcher.
func (e *Executor) Close() { e.watcher.Close() }

// ExecuteRoutes dispatches routes onto max_concurrent_routes workers in FIFO
// order and blocks until every route reaches a terminal state. One route's
// failure never aborts its siblings.
func (e *Executor) ExecuteRoutes(ctx context.Context, routes []*Route) {
	queue := make(chan *Route)
	var wg sync.WaitGroup
	workers := e.cfg.MaxConcurrentRoutes
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range queue {
				e.runRoute(ctx, r)
			}
		}()
	}
	for _, r := range routes {
		queue <- r
	}
	close(queue)
	wg.Wait()
}

// runRoute is the driver loop: it advances the state machine until terminal.
// Cancellation is observed between steps so an in-flight hop always finishes
// before the route winds down through a salvage sweep.
func (e *Executor) runRoute(ctx context.Context, r *Route) {
	for !r.State.Terminal() {
		if ctx.Err() != nil && !r.cancelled {
			r.cancelled = true
			if r.Err == nil {
				r.Err = ErrCancelled
			}
			if r.State.Phase != PhaseRecovery {
				r.State = RouteState{Phase: PhaseRecovery, Hop: r.State.Hop}
			}
		}
		prev := r.State
		switch r.State.Phase {
		case PhaseFundHead:
			r.State = e.stepFundHead(ctx, r)
		case PhaseHop:
			r.State = e.stepHop(ctx, r)
		case PhaseDelivered:
			r.State = e.stepDelivered(ctx, r)
		case PhaseRecovery:
			r.State = e.stepRecovery(r)
		default:
			r.Err = fmt.Errorf("route in unknown state %s", r.State)
			r.State = RouteState{Phase: PhaseFailed}
		}
		e.logger.Debugf("route %s: %s -> %s", r.Destination, prev, r.State)
	}
}

// stepFundHead funds intermediates[0] with the full route budget.
func (e *Executor) stepFundHead(ctx context.Context, r *Route) RouteState {
	opCtx := context.WithoutCancel(ctx)

	destBal, err := e.gateway.Balance(opCtx, r.Destination, CommitmentConfirmed)
	if err != nil {
		r.Err = err
		e.releaseAll(opCtx, r, ReleaseUnused)
		return RouteState{Phase: PhaseFailed}
	}
	r.destStartBalance = destBal

	srcBal, err := e.gateway.Balance(opCtx, r.Source.PublicKey(), CommitmentConfirmed)
	if err != nil {
		r.Err = err
		e.releaseAll(opCtx, r, ReleaseUnused)
		return RouteState{Phase: PhaseFailed}
	}
	if srcBal < r.FundingAmount() {
		r.Err = fmt.Errorf("%w: source holds %d, route needs %d", ErrInsufficientFunds, srcBal, r.FundingAmount())
		e.releaseAll(opCtx, r, ReleaseUnused)
		return RouteState{Phase: PhaseFailed}
	}

	head := r.Wallets[0].PublicKey
	if _, err := e.submitWithRetries(opCtx, r, r.Source, head, r.FundingAmount()); err != nil {
		r.Err = fmt.Errorf("fund head: %w", err)
		e.releaseAll(opCtx, r, ReleaseUnused)
		return RouteState{Phase: PhaseFailed}
	}
	return RouteState{Phase: PhaseHop, Hop: 0}
}

// stepHop waits for hop i's balance, then forwards to the next wallet or the
// destination.
func (e *Executor) stepHop(ctx context.Context, r *Route) RouteState {
	opCtx := context.WithoutCancel(ctx)
	i := r.State.Hop
	final := i == r.HopCount()-1

	if _, err := e.awaitBalance(opCtx, r.Wallets[i].PublicKey, r.ExpectedAt(i)); err != nil {
		r.Err = fmt.Errorf("hop %d: %w", i, err)
		r.pending = &pendingTransfer{signer: r.inboundSigner(i), to: r.Wallets[i].PublicKey, amount: r.ExpectedAt(i)}
		r.resume = RouteState{Phase: PhaseHop, Hop: i}
		return RouteState{Phase: PhaseRecovery, Hop: i}
	}

	e.interHopDelay(opCtx)

	to := r.Destination
	amount := r.Amount
	if !final {
		to = r.Wallets[i+1].PublicKey
		amount = r.ExpectedAt(i + 1)
	}
	if _, err := e.submitWithRetries(opCtx, r, r.Keys[i], to, amount); err != nil {
		r.Err = fmt.Errorf("hop %d: %w", i, err)
		r.pending = &pendingTransfer{signer: r.Keys[i], to: to, amount: amount}
		if final {
			r.resume = RouteState{Phase: PhaseDelivered, Hop: i}
		} else {
			r.resume = RouteState{Phase: PhaseHop, Hop: i + 1}
		}
		return RouteState{Phase: PhaseRecovery, Hop: i}
	}
	if final {
		return RouteState{Phase: PhaseDelivered, Hop: i}
	}
	return RouteState{Phase: PhaseHop, Hop: i + 1}
}

// stepDelivered post-checks the destination, sweeps residuals above dust and
// releases the intermediaries into cooling.
func (e *Executor) stepDelivered(ctx context.Context, r *Route) RouteState {
	opCtx := context.WithoutCancel(ctx)
	last := r.HopCount() - 1

	destBal, err := e.gateway.Balance(opCtx, r.Destination, CommitmentConfirmed)
	if err != nil || destBal < r.destStartBalance+r.Amount {
		if err == nil {
			err = fmt.Errorf("destination grew by %d, want %d", destBal-r.destStartBalance, r.Amount)
		}
		r.Err = fmt.Errorf("delivery check: %w", err)
		r.pending = &pendingTransfer{signer: r.Keys[last], to: r.Destination, amount: r.Amount}
		r.resume = RouteState{Phase: PhaseDelivered, Hop: last}
		return RouteState{Phase: PhaseRecovery, Hop: last}
	}

	for j := range r.Wallets {
		bal, err := e.gateway.Balance(opCtx, r.Wallets[j].PublicKey, CommitmentConfirmed)
		if err != nil {
			e.logger.Warnf("route %s: residual check hop %d: %v", r.Destination, j, err)
			continue
		}
		if bal > e.cfg.DustThreshold {
			e.sweepWallet(opCtx, r, j, bal)
		}
	}

	for j, w := range r.Wallets {
		if err := e.pool.Release(opCtx, w, ReleaseUsed); err != nil {
			e.logger.Warnf("route %s: release hop %d: %v", r.Destination, j, err)
			continue
		}
		bal, err := e.gateway.Balance(opCtx, w.PublicKey, CommitmentConfirmed)
		if err == nil && bal <= e.cfg.DustThreshold {
			if err := e.pool.MarkCoolZero(opCtx, w); err != nil {
				e.logger.Warnf("route %s: cool-zero hop %d: %v", r.Destination, j, err)
			}
		}
	}
	return RouteState{Phase: PhaseComplete}
}

// stepRecovery re-drives the stuck hop with fresh blockhashes and escalated
// fees, then salvage-sweeps on exhaustion. Cancelled routes skip straight to
// the sweep.
func (e *Executor) stepRecovery(r *Route) RouteState {
	ctx, cancel := context.WithTimeout(context.Background(), e.tuning.RecoveryWindow)
	defer cancel()
	i := r.State.Hop

	if !r.cancelled && r.pending != nil {
		for pass := 0; pass < e.cfg.RecoveryPasses; pass++ {
			attempt := e.cfg.Retry.MaxAttempts + pass
			sig, err := e.submitOnce(ctx, r, r.pending.signer, r.pending.to, r.pending.amount, attempt)
			if err == nil {
				e.logger.Infof("route %s: recovery pass %d landed %s", r.Destination, pass+1, sig)
				r.Err = nil
				r.pending = nil
				return r.resume
			}
			e.logger.Debugf("route %s: recovery pass %d: %v", r.Destination, pass+1, err)
		}
	}

	// Exhausted (or winding down): salvage what remains downstream.
	salvage := e.salvageAddress(r)
	for j := i; j < r.HopCount(); j++ {
		bal, err := e.gateway.Balance(ctx, r.Wallets[j].PublicKey, CommitmentConfirmed)
		if err != nil {
			e.logger.Warnf("route %s: salvage check hop %d: %v", r.Destination, j, err)
			continue
		}
		if bal > e.cfg.DustThreshold {
			e.sweepTo(ctx, r, j, bal, salvage)
		}
	}

	// Upstream wallets already forwarded their funds: they cool down
	// normally. Downstream wallets are parked in error on a genuine failure
	// but released for reuse on a clean cancellation.
	for j, w := range r.Wallets {
		if j < i || r.cancelled {
			if err := e.pool.Release(ctx, w, ReleaseUsed); err != nil {
				e.logger.Warnf("route %s: release hop %d: %v", r.Destination, j, err)
			}
			continue
		}
		e.pool.MarkError(ctx, w)
	}
	if r.Err == nil {
		r.Err = fmt.Errorf("recovery exhausted at hop %d", i)
	}
	return RouteState{Phase: PhaseFailed}
}

// awaitBalance polls addr with exponential back-off until the balance reaches
// expected or the balance check timeout elapses.
func (e *Executor) awaitBalance(ctx context.Context, addr solana.PublicKey, expected uint64) (uint64, error) {
	deadline := time.Now().Add(e.cfg.BalanceCheckTimeout)
	interval := e.tuning.BalancePollInitial
	for {
		bal, err := e.gateway.Balance(ctx, addr, CommitmentConfirmed)
		if err == nil && bal >= expected {
			return bal, nil
		}
		if err != nil {
			e.logger.Debugf("balance poll %s: %v", addr, err)
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: %s below %d", ErrHopTimeout, addr, expected)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		interval = time.Duration(float64(interval) * e.tuning.BalancePollFactor)
		if interval > e.tuning.BalancePollCap {
			interval = e.tuning.BalancePollCap
		}
	}
}

// submitWithRetries drives one transfer through the hop retry policy:
// fresh blockhash and escalated priority fee per attempt, randomized pause
// between attempts.
func (e *Executor) submitWithRetries(ctx context.Context, r *Route, signer solana.PrivateKey, to solana.PublicKey, amount uint64) (solana.Signature, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			pause := time.Duration(float64(e.cfg.Retry.RetryDelay) *
				(1 + rand.Float64()*(e.cfg.Retry.BackoffFactor-1)))
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return solana.Signature{}, ctx.Err()
			}
		}
		sig, err := e.submitOnce(ctx, r, signer, to, amount, attempt)
		if err == nil {
			return sig, nil
		}
		lastErr = err
	}
	return solana.Signature{}, fmt.Errorf("after %d attempts: %w", e.cfg.Retry.MaxAttempts, lastErr)
}

// submitOnce builds, signs, sends and confirms a single transfer attempt.
func (e *Executor) submitOnce(ctx context.Context, r *Route, signer solana.PrivateKey, to solana.PublicKey, amount uint64, attempt int) (solana.Signature, error) {
	bh, err := e.gateway.LatestBlockhash(ctx, CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, err
	}
	price := e.cfg.PriorityFeePolicy.PriceFor(attempt)
	tx, err := buildTransferTx(bh, signer, r.FeePayer, to, amount, price)
	if err != nil {
		return solana.Signature{}, err
	}
	submitted := time.Now()
	sig, err := e.gateway.SendTransaction(ctx, tx, SendOpts{
		SkipPreflight: true,
		Commitment:    CommitmentConfirmed,
		MaxRetries:    0,
	})
	if err != nil {
		return solana.Signature{}, err
	}

	st, err := e.watcher.Await(ctx, sig, e.tuning.ConfirmTimeout)
	outcome := TransferConfirmed
	var confirmedAt *time.Time
	switch {
	case err != nil:
		outcome = TransferTimeout
	case st.Err != nil:
		outcome = TransferFailed
		err = st.Err
	default:
		now := time.Now()
		confirmedAt = &now
	}
	e.appendTransfer(ctx, r, signer.PublicKey(), to, amount, sig, submitted, confirmedAt, outcome)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("signature %s: %w", sig, err)
	}
	r.Signatures = append(r.Signatures, sig)
	return sig, nil
}

// sweepWallet moves a residual above dust back to the salvage address.
func (e *Executor) sweepWallet(ctx context.Context, r *Route, j int, bal uint64) {
	e.sweepTo(ctx, r, j, bal, e.salvageAddress(r))
}

func (e *Executor) sweepTo(ctx context.Context, r *Route, j int, bal uint64, salvage solana.PublicKey) {
	if bal <= r.PerHopFee {
		return
	}
	amount := bal - r.PerHopFee
	if _, err := e.submitWithRetries(ctx, r, r.Keys[j], salvage, amount); err != nil {
		e.logger.Warnf("route %s: sweep hop %d (%d lamports): %v", r.Destination, j, amount, err)
	}
}

func (e *Executor) salvageAddress(r *Route) solana.PublicKey {
	if !e.cfg.SalvageAddress.IsZero() {
		return e.cfg.SalvageAddress
	}
	return r.Source.PublicKey()
}

func (e *Executor) releaseAll(ctx context.Context, r *Route, outcome ReleaseOutcome) {
	for _, w := range r.Wallets {
		if err := e.pool.Release(ctx, w, outcome); err != nil {
			e.logger.Warnf("route %s: release %s: %v", r.Destination, w.PublicKey, err)
		}
	}
}

// interHopDelay sleeps a randomized min..max delay; both zero is parallel
// mode and skips the sleep entirely.
func (e *Executor) interHopDelay(ctx context.Context) {
	if e.cfg.ParallelMode() {
		return
	}
	span := e.cfg.MaxDelay - e.cfg.MinDelay
	d := e.cfg.MinDelay
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (e *Executor) appendTransfer(ctx context.Context, r *Route, from, to solana.PublicKey, amount uint64, sig solana.Signature, submitted time.Time, confirmed *time.Time, outcome TransferOutcome) {
	tl := &TransferLog{
		RequestID:   r.RequestID,
		From:        from,
		To:          to,
		Amount:      amount,
		Signature:   sig,
		SubmittedAt: submitted,
		ConfirmedAt: confirmed,
		Outcome:     outcome,
	}
	if err := e.store.AppendTransfer(ctx, tl); err != nil {
		e.logger.Warnf("route %s: audit append: %v", r.Destination, err)
	}
}

// inboundSigner is the key that funds hop i: the source for hop 0, otherwise
// the previous intermediary.
func (r *Route) inboundSigner(i int) solana.PrivateKey {
	if i == 0 {
		return r.Source
	}
	return r.Keys[i-1]
}

// buildTransferTx assembles and signs one transfer: an optional
// compute-unit-price instruction followed by a system transfer. feePayer nil
// leaves the sending wallet as payer.
func buildTransferTx(blockhash solana.Hash, signer solana.PrivateKey, feePayer solana.PrivateKey, to solana.PublicKey, lamports uint64, computeUnitPrice uint64) (*solana.Transaction, error) {
	var instrs []solana.Instruction
	if computeUnitPrice > 0 {
		instrs = append(instrs, computebudget.NewSetComputeUnitPriceInstruction(computeUnitPrice).Build())
	}
	instrs = append(instrs, system.NewTransferInstruction(lamports, signer.PublicKey(), to).Build())

	payer := signer.PublicKey()
	if feePayer != nil {
		payer = feePayer.PublicKey()
	}
	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, err
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		if feePayer != nil && key.Equals(feePayer.PublicKey()) {
			return &feePayer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}
	return tx, nil
}
