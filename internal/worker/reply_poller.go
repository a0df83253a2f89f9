package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
)

// CheckpointStore is the slice of the job store the poller needs.
type CheckpointStore interface {
	Checkpoint(ctx context.Context) (time.Time, error)
	AdvanceCheckpoint(ctx context.Context, ts time.Time) error
}

// ReplyPoller is the catch-up side of the response monitor. It periodically
// lists conversations updated since the checkpoint and replays their
// messages through the reconciler, which drops anything the push channel
// already delivered.
type ReplyPoller struct {
	store      CheckpointStore
	lister     provider.ConversationLister
	reconciler *Reconciler
	lock       distlock.Lock
	interval   time.Duration
	lookback   time.Duration

	// Stats
	totalCycles   int64
	totalSkipped  int64
	totalObserved int64

	// Control
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.RWMutex
	inflight int32
}

// NewReplyPoller creates a stopped poller. lookback bounds the first cycle
// when no checkpoint exists yet.
func NewReplyPoller(store CheckpointStore, lister provider.ConversationLister,
	reconciler *Reconciler, lock distlock.Lock, interval, lookback time.Duration) *ReplyPoller {
	return &ReplyPoller{
		store:      store,
		lister:     lister,
		reconciler: reconciler,
		lock:       lock,
		interval:   interval,
		lookback:   lookback,
	}
}

// Start launches the poll loop.
func (rp *ReplyPoller) Start() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.running {
		return fmt.Errorf("reply poller already running")
	}
	rp.running = true
	rp.ctx, rp.cancel = context.WithCancel(context.Background())

	rp.wg.Add(1)
	go rp.loop()

	logger.Info("reply poller started", "interval", rp.interval.String())
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (rp *ReplyPoller) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.cancel()
	rp.mu.Unlock()

	rp.wg.Wait()
	logger.Info("reply poller stopped")
}

func (rp *ReplyPoller) loop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.RunCycle(rp.ctx)
		}
	}
}

// RunCycle executes one poll cycle. A local guard plus the distributed
// lock keep at most one cycle in flight across all instances. Returns
// whether the cycle ran.
func (rp *ReplyPoller) RunCycle(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&rp.inflight, 0, 1) {
		atomic.AddInt64(&rp.totalSkipped, 1)
		return false
	}
	defer atomic.StoreInt32(&rp.inflight, 0)

	acquired, err := rp.lock.Acquire(ctx)
	if err != nil {
		logger.Error("poll lock acquire failed", "error", err.Error())
		return false
	}
	if !acquired {
		atomic.AddInt64(&rp.totalSkipped, 1)
		return false
	}
	defer func() {
		if err := rp.lock.Release(context.Background()); err != nil {
			logger.Error("poll lock release failed", "error", err.Error())
		}
	}()

	rp.cycle(ctx)
	atomic.AddInt64(&rp.totalCycles, 1)
	return true
}

func (rp *ReplyPoller) cycle(ctx context.Context) {
	since, err := rp.store.Checkpoint(ctx)
	if err != nil {
		logger.Error("load checkpoint failed", "error", err.Error())
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-rp.lookback)
	}

	conversations, err := rp.lister.ListUpdatedConversations(ctx, since)
	if err != nil {
		logger.Error("list conversations failed", "error", err.Error())
		return
	}
	if len(conversations) == 0 {
		return
	}

	// the checkpoint only advances after the whole batch commits; a store
	// error re-polls the same window, and dedup swallows the repeats
	maxUpdated := since
	for _, conv := range conversations {
		for _, msg := range conv.Messages {
			obs := domain.ObservedResponse{
				ConversationID: conv.ID,
				MessageTS:      msg.TS,
				FromAddress:    msg.From,
				Text:           msg.Text,
				Source:         "poll",
			}
			if err := rp.reconciler.Process(ctx, obs); err != nil {
				logger.Error("reconcile polled reply failed",
					"conversation_id", conv.ID, "error", err.Error())
				return
			}
			atomic.AddInt64(&rp.totalObserved, 1)
		}
		if conv.UpdatedAt.After(maxUpdated) {
			maxUpdated = conv.UpdatedAt
		}
	}

	if err := rp.store.AdvanceCheckpoint(ctx, maxUpdated); err != nil {
		logger.Error("advance checkpoint failed", "error", err.Error())
	}
}

// Stats reports lifetime counters.
func (rp *ReplyPoller) Stats() map[string]int64 {
	return map[string]int64{
		"cycles":   atomic.LoadInt64(&rp.totalCycles),
		"skipped":  atomic.LoadInt64(&rp.totalSkipped),
		"observed": atomic.LoadInt64(&rp.totalObserved),
	}
}
