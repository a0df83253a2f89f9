package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// BulkStore is the slice of the job store the enqueuer needs.
type BulkStore interface {
	CreateBulkImport(ctx context.Context, imp *domain.BulkImportJob) error
	StartBulkImport(ctx context.Context, id string) error
	AddBulkResult(ctx context.Context, id string, success bool) error
	FinishBulkImport(ctx context.Context, id string, failed bool) error
	CreateJob(ctx context.Context, job *domain.EmailJob) error
}

// BulkRow is one pre-generated email to import.
type BulkRow struct {
	ProspectID string               `json:"prospect_id"`
	Email      domain.GeneratedEmail `json:"email"`
}

// BulkEnqueuer turns batches of pre-generated emails into queued jobs,
// tracking per-row outcomes on the import record. One bad row never stops
// the batch.
type BulkEnqueuer struct {
	store BulkStore

	// Stats
	totalEnqueued int64
	totalRejected int64
}

// NewBulkEnqueuer creates an enqueuer over the given store.
func NewBulkEnqueuer(store BulkStore) *BulkEnqueuer {
	return &BulkEnqueuer{store: store}
}

// Enqueue creates one job per row and returns the finished import record.
// Rows that fail validation count as failed; the batch itself only goes
// terminal-FAILED when nothing at all was imported.
func (e *BulkEnqueuer) Enqueue(ctx context.Context, campaignID string, rows []BulkRow) (*domain.BulkImportJob, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id required", domain.ErrValidation)
	}

	imp := &domain.BulkImportJob{
		CampaignID: campaignID,
		Total:      len(rows),
	}
	if err := e.store.CreateBulkImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("create import: %w", err)
	}
	if err := e.store.StartBulkImport(ctx, imp.ID); err != nil {
		return nil, fmt.Errorf("start import: %w", err)
	}

	start := time.Now()
	for _, row := range rows {
		job := &domain.EmailJob{
			ProspectID: row.ProspectID,
			CampaignID: campaignID,
			Email:      row.Email,
		}
		err := e.store.CreateJob(ctx, job)
		switch {
		case err == nil:
			imp.Successful++
			atomic.AddInt64(&e.totalEnqueued, 1)
		case errors.Is(err, domain.ErrValidation):
			imp.Failed++
			atomic.AddInt64(&e.totalRejected, 1)
			logger.Warn("import row rejected",
				"import_id", imp.ID,
				"prospect_id", row.ProspectID,
				"error", err.Error())
		default:
			// store failure: give up on the batch, keep what landed
			e.finish(ctx, imp)
			return imp, fmt.Errorf("create job: %w", err)
		}
		imp.Processed++

		if err := e.store.AddBulkResult(ctx, imp.ID, err == nil); err != nil {
			logger.Error("import counter update failed",
				"import_id", imp.ID, "error", err.Error())
		}
	}

	e.finish(ctx, imp)
	logger.Info("bulk import finished",
		"import_id", imp.ID,
		"total", imp.Total,
		"successful", imp.Successful,
		"failed", imp.Failed,
		"elapsed", time.Since(start).String())
	return imp, nil
}

func (e *BulkEnqueuer) finish(ctx context.Context, imp *domain.BulkImportJob) {
	failed := imp.Total > 0 && imp.Successful == 0
	if failed {
		imp.Status = domain.ImportFailed
	} else {
		imp.Status = domain.ImportCompleted
	}
	if err := e.store.FinishBulkImport(ctx, imp.ID, failed); err != nil {
		logger.Error("finish import failed", "import_id", imp.ID, "error", err.Error())
	}
}

// Stats reports lifetime counters.
func (e *BulkEnqueuer) Stats() map[string]int64 {
	return map[string]int64{
		"enqueued": atomic.LoadInt64(&e.totalEnqueued),
		"rejected": atomic.LoadInt64(&e.totalRejected),
	}
}
