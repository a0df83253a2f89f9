package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
)

// SeenResponse reports whether a response with the given dedup key is
// already committed. Callers use it to skip redundant analysis work; the
// authoritative dedup remains InsertResponse's unique key.
func (s *Store) SeenResponse(ctx context.Context, conversationID string, messageTS time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM outreach_responses
			WHERE conversation_id = $1 AND message_ts = $2
		)
	`, conversationID, messageTS).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("seen response: %w", err)
	}
	return exists, nil
}

// InsertResponse appends a committed response to a job, keyed by
// (conversation id, message timestamp). The unique key plus ON CONFLICT DO
// NOTHING makes redelivery from either channel idempotent: the returned
// bool is false when the event was already recorded. The insert and the
// set-once replied_at stamp commit in a single transaction, so a failed
// stamp leaves no dedup key behind and the event stays redeliverable.
func (s *Store) InsertResponse(ctx context.Context, jobID string, resp domain.Response) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("insert response: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO outreach_responses
			(conversation_id, message_ts, job_id, text, classification,
			 sentiment, quality, engagement, source, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (conversation_id, message_ts) DO NOTHING
	`, resp.ConversationID, resp.MessageTS, jobID, resp.Text, resp.Classification,
		resp.Sentiment, resp.Quality, resp.Engagement, resp.Source)
	if err != nil {
		return false, fmt.Errorf("insert response: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outreach_email_jobs
		SET replied_at = COALESCE(replied_at, $2), updated_at = NOW()
		WHERE id = $1
	`, jobID, resp.MessageTS)
	if err != nil {
		return false, fmt.Errorf("stamp replied_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("insert response: %w", err)
	}
	return true, nil
}

func (s *Store) listResponses(ctx context.Context, jobID string) ([]domain.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, message_ts, text, classification,
		       sentiment, quality, engagement, source, received_at
		FROM outreach_responses
		WHERE job_id = $1
		ORDER BY message_ts ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []domain.Response
	for rows.Next() {
		var r domain.Response
		if err := rows.Scan(&r.ConversationID, &r.MessageTS, &r.Text, &r.Classification,
			&r.Sentiment, &r.Quality, &r.Engagement, &r.Source, &r.ReceivedAt); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// AppendLearning adds one learning entry for a job. Entries accumulate in
// commit order; nothing is ever overwritten.
func (s *Store) AppendLearning(ctx context.Context, jobID string, entry domain.LearningEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outreach_learning_entries
			(job_id, prospect_archetype, style_effectiveness, suggestions, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, jobID, entry.ProspectArchetype, entry.StyleEffectiveness, pq.Array(entry.Suggestions))
	if err != nil {
		return fmt.Errorf("append learning: %w", err)
	}
	return nil
}

func (s *Store) listLearning(ctx context.Context, jobID string) ([]domain.LearningEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prospect_archetype, style_effectiveness, suggestions, created_at
		FROM outreach_learning_entries
		WHERE job_id = $1
		ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list learning: %w", err)
	}
	defer rows.Close()

	var entries []domain.LearningEntry
	for rows.Next() {
		var e domain.LearningEntry
		if err := rows.Scan(&e.ProspectArchetype, &e.StyleEffectiveness,
			pq.Array(&e.Suggestions), &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordOrphan logs a reply that matched no job, for operator visibility.
// The same dedup key applies, so redelivered orphans record once.
func (s *Store) RecordOrphan(ctx context.Context, obs domain.ObservedResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outreach_orphan_events
			(id, conversation_id, message_ts, text, source, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (conversation_id, message_ts) DO NOTHING
	`, uuid.New().String(), obs.ConversationID, obs.MessageTS, obs.Text, obs.Source)
	if err != nil {
		return fmt.Errorf("record orphan: %w", err)
	}
	return nil
}

// ListOrphans returns the most recent orphaned reply events.
func (s *Store) ListOrphans(ctx context.Context, limit int) ([]domain.OrphanEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_ts, text, source, recorded_at
		FROM outreach_orphan_events
		ORDER BY recorded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var orphans []domain.OrphanEvent
	for rows.Next() {
		var o domain.OrphanEvent
		if err := rows.Scan(&o.ID, &o.ConversationID, &o.MessageTS,
			&o.Text, &o.Source, &o.RecordedAt); err != nil {
			return nil, err
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// Checkpoint returns the watermark of the last successfully reconciled poll.
func (s *Store) Checkpoint(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_polled_at FROM outreach_poll_checkpoint WHERE id = 1
	`).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return ts, nil
}

// AdvanceCheckpoint moves the watermark forward. GREATEST keeps the
// checkpoint monotonic even if cycles complete out of order.
func (s *Store) AdvanceCheckpoint(ctx context.Context, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outreach_poll_checkpoint (id, last_polled_at)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE
		SET last_polled_at = GREATEST(outreach_poll_checkpoint.last_polled_at, EXCLUDED.last_polled_at)
	`, ts)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
