package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/provider"
)

// =============================================================================
// SHARED TEST DOUBLES
// =============================================================================

// memStore is an in-memory job store implementing the consumer interfaces
// the workers depend on. It mirrors the real store's guarded transitions.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.EmailJob
	byRef    map[string]string // external_ref -> job id
	seen     map[string]bool   // dedup keys
	learning map[string][]domain.LearningEntry
	orphans  []domain.ObservedResponse
	imports  map[string]*domain.BulkImportJob

	checkpoint time.Time

	failCreateJob   bool
	failInsertAfter int // fail InsertResponse after N successes, 0 = never
	inserted        int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[string]*domain.EmailJob),
		byRef:    make(map[string]string),
		seen:     make(map[string]bool),
		learning: make(map[string][]domain.LearningEntry),
		imports:  make(map[string]*domain.BulkImportJob),
	}
}

func (m *memStore) addQueuedJob(id, ref string) *domain.EmailJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &domain.EmailJob{
		ID:         id,
		ProspectID: "p-" + id,
		CampaignID: "c-1",
		Status:     domain.JobQueued,
		Email: domain.GeneratedEmail{
			Recipient: id + "@example.com",
			Subject:   "hello",
			Body:      "world",
		},
	}
	m.jobs[id] = job
	if ref != "" {
		job.ExternalRef = ref
		m.byRef[ref] = id
	}
	return job
}

func (m *memStore) job(id string) domain.EmailJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) ClaimJobs(_ context.Context, workerID string, limit int) ([]domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []domain.EmailJob
	now := time.Now()
	for _, job := range m.jobs {
		if len(claimed) >= limit {
			break
		}
		eligible := (job.Status == domain.JobQueued || job.Status == domain.JobRetrying) &&
			!job.Cancelled &&
			(job.NextAttemptAt == nil || !job.NextAttemptAt.After(now))
		if eligible {
			job.Status = domain.JobProcessing
			claimed = append(claimed, *job)
		}
	}
	return claimed, nil
}

func (m *memStore) MarkCompleted(_ context.Context, id, externalRef string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobProcessing {
		return fmt.Errorf("%w: %s -> completed", domain.ErrInvalidTransition, job.Status)
	}
	job.Status = domain.JobCompleted
	job.Attempts++
	if job.ExternalRef == "" {
		job.ExternalRef = externalRef
		m.byRef[externalRef] = id
	}
	if job.Analytics.SentAt == nil {
		job.Analytics.SentAt = &sentAt
	}
	return nil
}

func (m *memStore) MarkRetrying(_ context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobProcessing {
		return fmt.Errorf("%w: %s -> retrying", domain.ErrInvalidTransition, job.Status)
	}
	job.Status = domain.JobRetrying
	job.Attempts++
	job.ErrorMsg = errMsg
	job.NextAttemptAt = &nextAttemptAt
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobProcessing {
		return fmt.Errorf("%w: %s -> failed", domain.ErrInvalidTransition, job.Status)
	}
	job.Status = domain.JobFailed
	job.Attempts++
	job.ErrorMsg = errMsg
	return nil
}

func (m *memStore) RecoverStalled(_ context.Context, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if job.Status == domain.JobProcessing {
			job.Status = domain.JobQueued
			n++
		}
	}
	return n, nil
}

func dedupKey(conversationID string, ts time.Time) string {
	return conversationID + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func (m *memStore) SeenResponse(_ context.Context, conversationID string, messageTS time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[dedupKey(conversationID, messageTS)], nil
}

func (m *memStore) GetJobByExternalRef(_ context.Context, externalRef string) (*domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[externalRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m.jobs[id]
	return &cp, nil
}

func (m *memStore) InsertResponse(_ context.Context, jobID string, resp domain.Response) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertAfter > 0 && m.inserted >= m.failInsertAfter {
		return false, fmt.Errorf("store unavailable")
	}
	key := dedupKey(resp.ConversationID, resp.MessageTS)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	m.inserted++
	job := m.jobs[jobID]
	job.Responses = append(job.Responses, resp)
	if job.Analytics.RepliedAt == nil {
		ts := resp.MessageTS
		job.Analytics.RepliedAt = &ts
	}
	return true, nil
}

func (m *memStore) AppendLearning(_ context.Context, jobID string, entry domain.LearningEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learning[jobID] = append(m.learning[jobID], entry)
	return nil
}

func (m *memStore) RecordOrphan(_ context.Context, obs domain.ObservedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans = append(m.orphans, obs)
	return nil
}

func (m *memStore) Checkpoint(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoint, nil
}

func (m *memStore) AdvanceCheckpoint(_ context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts.After(m.checkpoint) {
		m.checkpoint = ts
	}
	return nil
}

func (m *memStore) CreateBulkImport(_ context.Context, imp *domain.BulkImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp.ID = fmt.Sprintf("imp-%d", len(m.imports)+1)
	imp.Status = domain.ImportPending
	cp := *imp
	m.imports[imp.ID] = &cp
	return nil
}

func (m *memStore) StartBulkImport(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports[id].Status = domain.ImportProcessing
	return nil
}

func (m *memStore) AddBulkResult(_ context.Context, id string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp := m.imports[id]
	imp.Processed++
	if success {
		imp.Successful++
	} else {
		imp.Failed++
	}
	return nil
}

func (m *memStore) FinishBulkImport(_ context.Context, id string, failed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.imports[id].Status = domain.ImportFailed
	} else {
		m.imports[id].Status = domain.ImportCompleted
	}
	return nil
}

func (m *memStore) CreateJob(_ context.Context, job *domain.EmailJob) error {
	if m.failCreateJob {
		return fmt.Errorf("store unavailable")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = fmt.Sprintf("j-%d", len(m.jobs)+1)
	job.Status = domain.JobQueued
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// flakySender fails a fixed number of sends before succeeding.
type flakySender struct {
	mu         sync.Mutex
	failures   int
	permanent  bool
	calls      int
	nextRefSeq int
}

func (f *flakySender) Send(_ context.Context, job domain.EmailJob) (provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		if f.permanent {
			return provider.SendResult{}, provider.NonRetriablef("recipient rejected")
		}
		return provider.SendResult{}, fmt.Errorf("transient send error %d", f.calls)
	}
	f.nextRefSeq++
	return provider.SendResult{
		ExternalRef: fmt.Sprintf("ref-%s-%d", job.ID, f.nextRefSeq),
		AcceptedAt:  time.Now(),
	}, nil
}

// stubAnalyzer returns a fixed result and counts calls.
type stubAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result provider.AnalysisResult
	err    error
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ domain.GeneratedEmail, _ string) (provider.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return provider.AnalysisResult{}, s.err
	}
	return s.result, nil
}

// noopLimiter admits everything.
type noopLimiter struct{}

func (noopLimiter) Acquire(context.Context, string) error { return nil }

// localLock is an in-process distlock.Lock.
type localLock struct {
	mu   sync.Mutex
	held bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}
