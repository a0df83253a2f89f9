package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
)

const jobColumns = `
	id, prospect_id, campaign_id, status, attempts,
	recipient, subject, body, COALESCE(personalizations::text, '{}'),
	COALESCE(external_ref, ''), cancelled, COALESCE(error_msg, ''),
	next_attempt_at, sent_at, opened_at, clicked_at, replied_at,
	created_at, updated_at`

// CreateJob validates the job at the store boundary and inserts it in
// QUEUED. Malformed records are rejected before a row exists.
func (s *Store) CreateJob(ctx context.Context, job *domain.EmailJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = domain.JobQueued

	personalizations, err := json.Marshal(job.Email.Personalizations)
	if err != nil {
		return fmt.Errorf("marshal personalizations: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO outreach_email_jobs
			(id, prospect_id, campaign_id, status, attempts,
			 recipient, subject, body, personalizations,
			 cancelled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at
	`, job.ID, job.ProspectID, job.CampaignID, job.Status,
		job.Email.Recipient, job.Email.Subject, job.Email.Body, personalizations,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job with its accumulated responses and learning entries.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.EmailJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM outreach_email_jobs WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if job.Responses, err = s.listResponses(ctx, id); err != nil {
		return nil, err
	}
	if job.Learning, err = s.listLearning(ctx, id); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJobByExternalRef locates the job a conversation belongs to.
func (s *Store) GetJobByExternalRef(ctx context.Context, externalRef string) (*domain.EmailJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM outreach_email_jobs WHERE external_ref = $1
	`, externalRef)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by external ref: %w", err)
	}
	return job, nil
}

// ClaimJobs atomically claims up to limit eligible jobs for the given
// worker and moves them to PROCESSING. Eligible means QUEUED, or RETRYING
// with an elapsed backoff, and not cancelled. FOR UPDATE SKIP LOCKED
// guarantees two workers can never claim the same row.
func (s *Store) ClaimJobs(ctx context.Context, workerID string, limit int) ([]domain.EmailJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE outreach_email_jobs
		SET status = 'processing', worker_id = $1, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outreach_email_jobs
			WHERE status IN ('queued', 'retrying')
			  AND NOT cancelled
			  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns+`
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.EmailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkCompleted records a successful send: sets the external ref (at most
// once), stamps sent_at (set-once), and moves PROCESSING -> COMPLETED.
func (s *Store) MarkCompleted(ctx context.Context, id, externalRef string, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET status = 'completed',
		    attempts = attempts + 1,
		    external_ref = COALESCE(external_ref, $2),
		    sent_at = COALESCE(sent_at, $3),
		    error_msg = NULL,
		    next_attempt_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, externalRef, sentAt)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return s.transitionOutcome(ctx, res, id, domain.JobCompleted)
}

// MarkRetrying records a retriable failure: increments attempts, stores the
// error, and schedules the next attempt. PROCESSING -> RETRYING only.
func (s *Store) MarkRetrying(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET status = 'retrying',
		    attempts = attempts + 1,
		    error_msg = $2,
		    next_attempt_at = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, errMsg, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	return s.transitionOutcome(ctx, res, id, domain.JobRetrying)
}

// MarkFailed records a terminal failure. PROCESSING -> FAILED only; no
// automatic attempt ever follows.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET status = 'failed',
		    attempts = attempts + 1,
		    error_msg = $2,
		    next_attempt_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.transitionOutcome(ctx, res, id, domain.JobFailed)
}

// CancelJob marks a job no-longer-wanted. The claim query excludes
// cancelled jobs; an in-flight send is allowed to complete.
func (s *Store) CancelJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET cancelled = TRUE, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecoverStalled requeues jobs stuck in PROCESSING longer than staleAge,
// which happens when a worker dies between claim and outcome. No attempt is
// counted: the claim never produced a send.
func (s *Store) RecoverStalled(ctx context.Context, staleAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET status = 'queued',
		    worker_id = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND claimed_at < NOW() - $1::interval
	`, staleAge.String())
	if err != nil {
		return 0, fmt.Errorf("recover stalled: %w", err)
	}
	return res.RowsAffected()
}

// MarkEngagement stamps an opened/clicked timestamp on the job owning the
// given external ref. Each timestamp is set at most once and never
// regresses; later duplicate events are no-ops.
func (s *Store) MarkEngagement(ctx context.Context, externalRef, eventType string, at time.Time) error {
	var column string
	switch eventType {
	case "opened", "open":
		column = "opened_at"
	case "clicked", "click":
		column = "clicked_at"
	default:
		return fmt.Errorf("unknown engagement event %q", eventType)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET `+column+` = COALESCE(`+column+`, $2), updated_at = NOW()
		WHERE external_ref = $1
	`, externalRef, at)
	if err != nil {
		return fmt.Errorf("mark engagement: %w", err)
	}
	return nil
}

// CountByStatus returns job counts per status for the stats surface.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM outreach_email_jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status domain.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// transitionOutcome classifies a zero-row guarded UPDATE: either the job is
// gone (ErrNotFound) or its current status forbids the move
// (ErrInvalidTransition). Never silently swallowed.
func (s *Store) transitionOutcome(ctx context.Context, res sql.Result, id string, to domain.JobStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current domain.JobStatus
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM outreach_email_jobs WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load status for %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, to)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.EmailJob, error) {
	var job domain.EmailJob
	var personalizations string

	err := row.Scan(
		&job.ID, &job.ProspectID, &job.CampaignID, &job.Status, &job.Attempts,
		&job.Email.Recipient, &job.Email.Subject, &job.Email.Body, &personalizations,
		&job.ExternalRef, &job.Cancelled, &job.ErrorMsg,
		&job.NextAttemptAt,
		&job.Analytics.SentAt, &job.Analytics.OpenedAt,
		&job.Analytics.ClickedAt, &job.Analytics.RepliedAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if personalizations != "" && personalizations != "{}" {
		if err := json.Unmarshal([]byte(personalizations), &job.Email.Personalizations); err != nil {
			return nil, fmt.Errorf("parse personalizations for %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
