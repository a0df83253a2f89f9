package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
)

// CreateBulkImport inserts a PENDING batch record with its expected total.
func (s *Store) CreateBulkImport(ctx context.Context, imp *domain.BulkImportJob) error {
	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	imp.Status = domain.ImportPending

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO outreach_bulk_imports
			(id, campaign_id, status, total, processed, successful, failed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, NOW(), NOW())
		RETURNING created_at, updated_at
	`, imp.ID, imp.CampaignID, imp.Status, imp.Total).Scan(&imp.CreatedAt, &imp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bulk import: %w", err)
	}
	return nil
}

// StartBulkImport moves PENDING -> PROCESSING.
func (s *Store) StartBulkImport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outreach_bulk_imports
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("start bulk import: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddBulkResult bumps the additive counters for one produced job.
func (s *Store) AddBulkResult(ctx context.Context, id string, success bool) error {
	var column = "failed"
	if success {
		column = "successful"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outreach_bulk_imports
		SET processed = processed + 1, `+column+` = `+column+` + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("add bulk result: %w", err)
	}
	return nil
}

// FinishBulkImport moves the batch to its terminal state.
func (s *Store) FinishBulkImport(ctx context.Context, id string, failed bool) error {
	status := domain.ImportCompleted
	if failed {
		status = domain.ImportFailed
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outreach_bulk_imports
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, status)
	if err != nil {
		return fmt.Errorf("finish bulk import: %w", err)
	}
	return nil
}

// GetBulkImport loads one batch record.
func (s *Store) GetBulkImport(ctx context.Context, id string) (*domain.BulkImportJob, error) {
	var imp domain.BulkImportJob
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, status, total, processed, successful, failed,
		       created_at, updated_at
		FROM outreach_bulk_imports WHERE id = $1
	`, id).Scan(&imp.ID, &imp.CampaignID, &imp.Status, &imp.Total,
		&imp.Processed, &imp.Successful, &imp.Failed, &imp.CreatedAt, &imp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bulk import: %w", err)
	}
	return &imp, nil
}
