// Package api exposes the engine over HTTP: producer endpoints for jobs and
// bulk imports, webhook ingestion for replies and engagement events, an SSE
// status stream, and operator stats.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/events"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/worker"
)

// JobStore is the slice of the job store the handlers need.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.EmailJob) error
	GetJob(ctx context.Context, id string) (*domain.EmailJob, error)
	CancelJob(ctx context.Context, id string) error
	GetBulkImport(ctx context.Context, id string) (*domain.BulkImportJob, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error)
	MarkEngagement(ctx context.Context, externalRef, eventType string, at time.Time) error
	ListOrphans(ctx context.Context, limit int) ([]domain.OrphanEvent, error)
}

// Enqueuer is the bulk import producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, campaignID string, rows []worker.BulkRow) (*domain.BulkImportJob, error)
}

// ReplyIngester is the push side of the response monitor.
type ReplyIngester interface {
	Ingest(ctx context.Context, body []byte, signature string) error
}

// StatsSource is any component exposing lifetime counters.
type StatsSource interface {
	Stats() map[string]int64
}

// Handlers carries the wired collaborators for all routes.
type Handlers struct {
	store       JobStore
	enqueuer    Enqueuer
	ingester    ReplyIngester
	broadcaster *events.Broadcaster
	sources     map[string]StatsSource
	startedAt   time.Time
}

// NewHandlers wires the handler set. sources maps a component name to its
// stats, surfaced verbatim under /api/v1/stats.
func NewHandlers(store JobStore, enqueuer Enqueuer, ingester ReplyIngester,
	broadcaster *events.Broadcaster, sources map[string]StatsSource) *Handlers {
	return &Handlers{
		store:       store,
		enqueuer:    enqueuer,
		ingester:    ingester,
		broadcaster: broadcaster,
		sources:     sources,
		startedAt:   time.Now(),
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

type createJobRequest struct {
	ProspectID string                `json:"prospect_id"`
	CampaignID string                `json:"campaign_id"`
	Email      domain.GeneratedEmail `json:"email"`
}

// CreateJob is the producer boundary: one pre-generated email in, one
// QUEUED job out.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	job := &domain.EmailJob{
		ProspectID: req.ProspectID,
		CampaignID: req.CampaignID,
		Email:      req.Email,
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	h.broadcaster.Publish(events.StatusEvent{
		JobID:  job.ID,
		Status: job.Status,
		Kind:   "status",
	})
	httputil.Created(w, job)
}

// GetJob returns one job with its responses and learning entries.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			httputil.NotFound(w, "job not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, job)
}

// CancelJob flags a job no-longer-wanted. Terminal jobs cannot be
// cancelled.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.CancelJob(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			httputil.NotFound(w, "job not found or already terminal")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"id": id, "cancelled": true})
}

type createImportRequest struct {
	CampaignID string           `json:"campaign_id"`
	Rows       []worker.BulkRow `json:"rows"`
}

// CreateImport accepts a batch of pre-generated emails.
func (h *Handlers) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req createImportRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	imp, err := h.enqueuer.Enqueue(r.Context(), req.CampaignID, req.Rows)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, imp)
}

// GetImport returns one import record with its counters.
func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := h.store.GetBulkImport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			httputil.NotFound(w, "import not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, imp)
}

// ListOrphans returns replies that matched no job.
func (h *Handlers) ListOrphans(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orphans, err := h.store.ListOrphans(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"orphans": orphans})
}

// GetStats aggregates job counts and component counters.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByStatus(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	components := make(map[string]map[string]int64, len(h.sources))
	for name, src := range h.sources {
		components[name] = src.Stats()
	}

	httputil.OK(w, map[string]any{
		"jobs":       counts,
		"components": components,
	})
}
