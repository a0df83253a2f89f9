package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// If a dispatcher worker dies between claiming a job and recording its
// outcome, the row stays in PROCESSING forever. The recovery sweeper
// periodically requeues such claims so another worker can pick them up.

const (
	// DefaultRecoveryInterval is how often we scan for stalled claims.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a claim can sit in PROCESSING before we
	// consider its worker dead.
	DefaultStaleAge = 5 * time.Minute
)

// RecoveryStore is the slice of the job store the sweeper needs.
type RecoveryStore interface {
	RecoverStalled(ctx context.Context, staleAge time.Duration) (int64, error)
}

// RecoverySweeper requeues jobs orphaned by crashed workers.
type RecoverySweeper struct {
	store    RecoveryStore
	interval time.Duration
	staleAge time.Duration

	totalRecovered int64
}

// NewRecoverySweeper creates a sweeper with the given timing. Non-positive
// values fall back to the defaults.
func NewRecoverySweeper(store RecoveryStore, interval, staleAge time.Duration) *RecoverySweeper {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &RecoverySweeper{store: store, interval: interval, staleAge: staleAge}
}

// Start begins the sweep loop. It blocks until ctx is cancelled.
func (rs *RecoverySweeper) Start(ctx context.Context) {
	logger.Info("recovery sweeper started",
		"interval", rs.interval.String(),
		"stale_age", rs.staleAge.String())

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("recovery sweeper stopped")
			return
		case <-ticker.C:
			rs.sweep(ctx)
		}
	}
}

func (rs *RecoverySweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := rs.store.RecoverStalled(sweepCtx, rs.staleAge)
	if err != nil {
		logger.Error("recovery sweep failed", "error", err.Error())
		return
	}
	if n > 0 {
		atomic.AddInt64(&rs.totalRecovered, n)
		logger.Warn("requeued stalled claims", "count", n)
	}
}

// Stats reports the lifetime recovered count.
func (rs *RecoverySweeper) Stats() map[string]int64 {
	return map[string]int64{
		"recovered": atomic.LoadInt64(&rs.totalRecovered),
	}
}
