package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/events"
	"github.com/ignite/outreach-engine/internal/worker"
)

// fakeStore is an in-memory JobStore for handler tests.
type fakeStore struct {
	jobs       map[string]*domain.EmailJob
	imports    map[string]*domain.BulkImportJob
	orphans    []domain.OrphanEvent
	engagement []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[string]*domain.EmailJob),
		imports: make(map[string]*domain.BulkImportJob),
	}
}

func (f *fakeStore) CreateJob(_ context.Context, job *domain.EmailJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	job.ID = fmt.Sprintf("j-%d", len(f.jobs)+1)
	job.Status = domain.JobQueued
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*domain.EmailJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) CancelJob(_ context.Context, id string) error {
	job, ok := f.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return domain.ErrNotFound
	}
	job.Cancelled = true
	return nil
}

func (f *fakeStore) GetBulkImport(_ context.Context, id string) (*domain.BulkImportJob, error) {
	imp, ok := f.imports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return imp, nil
}

func (f *fakeStore) CountByStatus(context.Context) (map[domain.JobStatus]int64, error) {
	counts := make(map[domain.JobStatus]int64)
	for _, job := range f.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (f *fakeStore) MarkEngagement(_ context.Context, externalRef, eventType string, _ time.Time) error {
	switch eventType {
	case "opened", "open", "clicked", "click":
		f.engagement = append(f.engagement, externalRef+":"+eventType)
		return nil
	default:
		return fmt.Errorf("unknown engagement event %q", eventType)
	}
}

func (f *fakeStore) ListOrphans(context.Context, int) ([]domain.OrphanEvent, error) {
	return f.orphans, nil
}

type fakeEnqueuer struct {
	lastCampaign string
	lastRows     []worker.BulkRow
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, campaignID string, rows []worker.BulkRow) (*domain.BulkImportJob, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id required", domain.ErrValidation)
	}
	f.lastCampaign = campaignID
	f.lastRows = rows
	return &domain.BulkImportJob{
		ID:         "imp-1",
		CampaignID: campaignID,
		Status:     domain.ImportCompleted,
		Total:      len(rows),
		Successful: len(rows),
		Processed:  len(rows),
	}, nil
}

type fakeIngester struct {
	err    error
	bodies [][]byte
}

func (f *fakeIngester) Ingest(_ context.Context, body []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

type staticStats map[string]int64

func (s staticStats) Stats() map[string]int64 { return s }

func newTestRouter(store *fakeStore, enqueuer *fakeEnqueuer, ingester *fakeIngester) http.Handler {
	h := NewHandlers(store, enqueuer, ingester, events.NewBroadcaster(),
		map[string]StatsSource{"dispatcher": staticStats{"completed": 7}})
	return SetupRoutes(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobEndpoint(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store, &fakeEnqueuer{}, &fakeIngester{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", map[string]any{
		"prospect_id": "p-1",
		"campaign_id": "c-1",
		"email": map[string]any{
			"recipient": "prospect@example.com",
			"subject":   "hi",
			"body":      "hello",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job domain.EmailJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.NotEmpty(t, job.ID)
}

func TestCreateJobValidation(t *testing.T) {
	router := newTestRouter(newFakeStore(), &fakeEnqueuer{}, &fakeIngester{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", map[string]any{
		"prospect_id": "p-1",
		"campaign_id": "c-1",
		"email":       map[string]any{"subject": "no recipient"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobEndpoint(t *testing.T) {
	store := newFakeStore()
	store.jobs["j-1"] = &domain.EmailJob{ID: "j-1", Status: domain.JobCompleted}
	router := newTestRouter(store, &fakeEnqueuer{}, &fakeIngester{})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/jobs/j-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobEndpoint(t *testing.T) {
	store := newFakeStore()
	store.jobs["j-1"] = &domain.EmailJob{ID: "j-1", Status: domain.JobQueued}
	store.jobs["j-2"] = &domain.EmailJob{ID: "j-2", Status: domain.JobCompleted}
	router := newTestRouter(store, &fakeEnqueuer{}, &fakeIngester{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs/j-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.jobs["j-1"].Cancelled)

	// terminal jobs cannot be cancelled
	rec = doJSON(t, router, http.MethodPost, "/api/v1/jobs/j-2/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateImportEndpoint(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newTestRouter(newFakeStore(), enqueuer, &fakeIngester{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/imports", map[string]any{
		"campaign_id": "c-1",
		"rows": []map[string]any{
			{"prospect_id": "p-1", "email": map[string]any{
				"recipient": "a@example.com", "subject": "s", "body": "b",
			}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "c-1", enqueuer.lastCampaign)
	assert.Len(t, enqueuer.lastRows, 1)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/imports", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplyWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"bad signature", domain.ErrBadSignature, http.StatusUnauthorized},
		{"malformed", fmt.Errorf("%w: bad payload", domain.ErrValidation), http.StatusBadRequest},
		{"store down", fmt.Errorf("insert: connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(newFakeStore(), &fakeEnqueuer{}, &fakeIngester{err: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/webhooks/replies",
				bytes.NewReader([]byte(`{"conversationId":"conv-1"}`)))
			req.Header.Set(worker.SignatureHeader, "aabbcc")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestEngagementWebhook(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store, &fakeEnqueuer{}, &fakeIngester{})

	rec := doJSON(t, router, http.MethodPost, "/webhooks/engagement", map[string]any{
		"external_ref": "msg-1",
		"event":        "opened",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"msg-1:opened"}, store.engagement)

	rec = doJSON(t, router, http.MethodPost, "/webhooks/engagement", map[string]any{
		"external_ref": "msg-1",
		"event":        "forwarded",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/webhooks/engagement", map[string]any{
		"event": "opened",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	store := newFakeStore()
	store.jobs["j-1"] = &domain.EmailJob{ID: "j-1", Status: domain.JobQueued}
	router := newTestRouter(store, &fakeEnqueuer{}, &fakeIngester{})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Jobs       map[string]int64            `json:"jobs"`
		Components map[string]map[string]int64 `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, int64(1), payload.Jobs["queued"])
	assert.Equal(t, int64(7), payload.Components["dispatcher"]["completed"])
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(newFakeStore(), &fakeEnqueuer{}, &fakeIngester{})
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
