package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/events"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
)

// MonitorStore is the slice of the job store the reconciler needs.
type MonitorStore interface {
	SeenResponse(ctx context.Context, conversationID string, messageTS time.Time) (bool, error)
	GetJobByExternalRef(ctx context.Context, externalRef string) (*domain.EmailJob, error)
	InsertResponse(ctx context.Context, jobID string, resp domain.Response) (bool, error)
	RecordOrphan(ctx context.Context, obs domain.ObservedResponse) error
}

const analysisProviderName = "analysis"

// Reconciler turns observed reply events from either channel into committed
// responses. Both the push receiver and the reply poller feed it, so the
// dedup key makes double delivery harmless.
type Reconciler struct {
	store       MonitorStore
	analyzer    provider.AnalysisProvider
	limiter     Limiter
	learning    *LearningUpdater
	broadcaster *events.Broadcaster

	// Stats
	totalCommitted  int64
	totalDuplicates int64
	totalOrphans    int64
}

// NewReconciler wires the reconcile pipeline.
func NewReconciler(store MonitorStore, analyzer provider.AnalysisProvider, limiter Limiter,
	learning *LearningUpdater, broadcaster *events.Broadcaster) *Reconciler {
	return &Reconciler{
		store:       store,
		analyzer:    analyzer,
		limiter:     limiter,
		learning:    learning,
		broadcaster: broadcaster,
	}
}

// Process commits one observed reply. Duplicates and orphans return nil;
// the event is consumed either way. A returned error means nothing was
// committed and the event is safe to redeliver.
func (r *Reconciler) Process(ctx context.Context, obs domain.ObservedResponse) error {
	seen, err := r.store.SeenResponse(ctx, obs.ConversationID, obs.MessageTS)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		atomic.AddInt64(&r.totalDuplicates, 1)
		return nil
	}

	job, err := r.store.GetJobByExternalRef(ctx, obs.ConversationID)
	if errors.Is(err, domain.ErrNotFound) {
		atomic.AddInt64(&r.totalOrphans, 1)
		logger.Warn("reply matched no job",
			"conversation_id", obs.ConversationID,
			"source", obs.Source)
		return r.store.RecordOrphan(ctx, obs)
	}
	if err != nil {
		return fmt.Errorf("locate job: %w", err)
	}

	if err := r.limiter.Acquire(ctx, analysisProviderName); err != nil {
		return fmt.Errorf("analysis rate limit: %w", err)
	}
	result, err := r.analyzer.Analyze(ctx, job.Email, obs.Text)
	if err != nil {
		return fmt.Errorf("analyze reply: %w", err)
	}

	inserted, err := r.store.InsertResponse(ctx, job.ID, domain.Response{
		ConversationID: obs.ConversationID,
		MessageTS:      obs.MessageTS,
		Text:           obs.Text,
		Classification: result.Classification,
		Sentiment:      result.Sentiment,
		Quality:        result.Quality,
		Engagement:     result.Engagement,
		Source:         obs.Source,
	})
	if err != nil {
		return fmt.Errorf("commit response: %w", err)
	}
	if !inserted {
		// the other channel won the race after our dedup check
		atomic.AddInt64(&r.totalDuplicates, 1)
		return nil
	}
	atomic.AddInt64(&r.totalCommitted, 1)

	if err := r.learning.Apply(ctx, job.ID, result); err != nil {
		// the response is already committed; losing one learning entry
		// must not fail the event
		logger.Error("learning update failed", "job_id", job.ID, "error", err.Error())
	}

	r.broadcaster.Publish(events.StatusEvent{
		JobID:  job.ID,
		Status: job.Status,
		Kind:   "response",
		Detail: string(result.Classification),
	})
	return nil
}

// Stats reports lifetime counters.
func (r *Reconciler) Stats() map[string]int64 {
	return map[string]int64{
		"committed":  atomic.LoadInt64(&r.totalCommitted),
		"duplicates": atomic.LoadInt64(&r.totalDuplicates),
		"orphans":    atomic.LoadInt64(&r.totalOrphans),
	}
}
