package core

// confirmWatcher amortizes signature polling: every route registers its
// in-flight signature here and one ticker loop queries the whole batch
// through the gateway's batched status RPC.

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	logrus "github.com/sirupsen/logrus"
)

type confirmWatcher struct {
	gateway  *RpcGateway
	logger   *logrus.Logger
	interval time.Duration
	target   Commitment

	mu      sync.Mutex
	pending map[solana.Signature]chan SigStatus
	stop    chan struct{}
	once    sync.Once
}

func newConfirmWatcher(gw *RpcGateway, interval time.Duration, target Commitment, lg *logrus.Logger) *confirmWatcher {
	w := &confirmWatcher{
		gateway:  gw,
		logger:   lg,
		interval: interval,
		target:   target,
		pending:  make(map[solana.Signature]chan SigStatus),
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Await blocks until sig reaches the target commitment, reports a transaction
// error, or the deadline passes. The returned status is zero-valued on
// timeout.
func (w *confirmWatcher) Await(ctx context.Context, sig solana.Signature, timeout time.Duration) (SigStatus, error) {
	ch := make(chan SigStatus, 1)
	w.mu.Lock()
	w.pending[sig] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, sig)
		w.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case st := <-ch:
		return st, nil
	case <-timer.C:
		return SigStatus{}, ErrHopTimeout
	case <-ctx.Done():
		return SigStatus{}, ctx.Err()
	case <-w.stop:
		return SigStatus{}, ErrCancelled
	}
}

func (w *confirmWatcher) Close() { w.once.Do(func() { close(w.stop) }) }

func (w *confirmWatcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stop:
			return
		}
	}
}

func (w *confirmWatcher) poll() {
	w.mu.Lock()
	sigs := make([]solana.Signature, 0, len(w.pending))
	for sig := range w.pending {
		sigs = append(sigs, sig)
	}
	w.mu.Unlock()
	if len(sigs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.interval*4)
	statuses, err := w.gateway.SignatureStatuses(ctx, sigs)
	cancel()
	if err != nil {
		w.logger.Debugf("confirm: batch poll: %v", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, st := range statuses {
		if st.Err == nil && !st.Confirmation.AtLeast(w.target) {
			continue
		}
		if ch, ok := w.pending[sigs[i]]; ok {
			ch <- st
			delete(w.pending, sigs[i])
		}
	}
}
