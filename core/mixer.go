package core

// Mixer — the public boundary: validates a MixRequest, plans routes, executes
// them and reports the per-route outcome vector.

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"
	logrus "github.com/sirupsen/logrus"
)

// Mixer owns the process-wide collaborators: one gateway, one pool, one
// vault-backed store. Per-run executors are created inside RunMix.
type Mixer struct {
	gateway *RpcGateway
	pool    *WalletPool
	store   WalletStore
	planner *RoutePlanner
	logger  *logrus.Logger
	tuning  ExecutorTuning
}

// NewMixer wires the mixer from its explicit dependencies; nothing here is a
// package-level global so tests can parametrize rate limits and keys freely.
func NewMixer(gw *RpcGateway, pool *WalletPool, store WalletStore, lg *logrus.Logger) *Mixer {
	return &Mixer{
		gateway: gw,
		pool:    pool,
		store:   store,
		planner: NewRoutePlanner(pool, lg),
		logger:  lg,
		tuning:  DefaultExecutorTuning(),
	}
}

// SetTuning overrides the executor cadences (tests, aggressive deployments).
func (m *Mixer) SetTuning(t ExecutorTuning) { m.tuning = t }

// RunMix executes one mixing job. The returned MixResult always carries the
// per-route outcome vector when planning succeeded; the error is non-nil for
// request-fatal conditions (validation, pool shortage) and ErrPartialFailure
// when at least one route failed, including when every route failed.
func (m *Mixer) RunMix(ctx context.Context, req *MixRequest, cfg *MixConfig) (*MixResult, error) {
	start := time.Now()
	if cfg == nil {
		cfg = DefaultMixConfig()
	}
	cfg.normalize()
	if err := validateRequest(req, cfg); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	m.logger.WithFields(logrus.Fields{
		"request":      requestID,
		"destinations": len(req.Destinations),
		"hops":         cfg.HopCount,
		"total":        req.TotalAmount,
	}).Info("mix: planning")

	routes, err := m.planner.Plan(ctx, req, cfg, requestID)
	if err != nil {
		return nil, err
	}

	// No source funds is fatal to the whole request, not just one route.
	var needed uint64
	for _, r := range routes {
		if r.State.Phase != PhaseFailed {
			needed += r.FundingAmount()
		}
	}
	srcBal, err := m.gateway.Balance(ctx, req.SourceSecret.PublicKey(), CommitmentConfirmed)
	if err != nil {
		m.planner.releaseAll(ctx, routes)
		return nil, err
	}
	if srcBal < needed {
		m.planner.releaseAll(ctx, routes)
		return nil, fmt.Errorf("%w: source holds %d lamports, mix needs %d", ErrInsufficientFunds, srcBal, needed)
	}

	exec := NewExecutor(m.gateway, m.pool, m.store, cfg, m.tuning, m.logger)
	defer exec.Close()
	exec.ExecuteRoutes(ctx, routes)

	result := &MixResult{
		AggregateOK: true,
		Routes:      make([]RouteResult, 0, len(routes)),
	}
	failed := 0
	for _, r := range routes {
		rr := RouteResult{
			Destination: r.Destination.String(),
			Signatures:  make([]string, 0, len(r.Signatures)),
		}
		for _, sig := range r.Signatures {
			rr.Signatures = append(rr.Signatures, sig.String())
		}
		if r.State.Phase == PhaseComplete {
			rr.Status = "complete"
		} else {
			rr.Status = "failed"
			failed++
			result.AggregateOK = false
			if r.Err != nil {
				rr.Error = r.Err.Error()
			}
		}
		result.Routes = append(result.Routes, rr)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	m.logger.WithFields(logrus.Fields{
		"request":  requestID,
		"ok":       result.AggregateOK,
		"failed":   failed,
		"duration": result.DurationMs,
	}).Info("mix: finished")

	if failed > 0 {
		return result, fmt.Errorf("%w: %d of %d routes failed", ErrPartialFailure, failed, len(routes))
	}
	return result, nil
}

// validateRequest enforces the BadRequest surface: well-formed keys, a
// non-empty destination set and positive, coverable amounts.
func validateRequest(req *MixRequest, cfg *MixConfig) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrBadRequest)
	}
	if len(req.SourceSecret) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: source secret must be a 64-byte ed25519 key", ErrBadRequest)
	}
	if req.FeeSourceSecret != nil && len(req.FeeSourceSecret) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: fee source secret must be a 64-byte ed25519 key", ErrBadRequest)
	}
	if req.TotalAmount == 0 {
		return fmt.Errorf("%w: non-positive total amount", ErrBadRequest)
	}
	if len(req.Destinations) == 0 {
		return fmt.Errorf("%w: destinations empty", ErrBadRequest)
	}
	for i, d := range req.Destinations {
		if d.IsZero() {
			return fmt.Errorf("%w: destination %d is the zero address", ErrBadRequest, i)
		}
	}
	if len(req.CustomAmounts) > 0 && len(req.CustomAmounts) != len(req.Destinations) {
		return fmt.Errorf("%w: %d custom amounts for %d destinations",
			ErrBadRequest, len(req.CustomAmounts), len(req.Destinations))
	}
	if cfg.MinDelay > cfg.MaxDelay {
		return fmt.Errorf("%w: min_delay above max_delay", ErrBadRequest)
	}
	return nil
}
