package worker

import (
	"context"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/provider"
)

// LearningStore is the slice of the job store the updater needs.
type LearningStore interface {
	AppendLearning(ctx context.Context, jobID string, entry domain.LearningEntry) error
}

// LearningUpdater records what each committed response taught us about the
// prospect and the email style. Entries accumulate per job; later responses
// never overwrite earlier lessons.
type LearningUpdater struct {
	store LearningStore
}

// NewLearningUpdater creates an updater over the given store.
func NewLearningUpdater(store LearningStore) *LearningUpdater {
	return &LearningUpdater{store: store}
}

// Apply appends one learning entry derived from an analysis result.
func (l *LearningUpdater) Apply(ctx context.Context, jobID string, result provider.AnalysisResult) error {
	return l.store.AppendLearning(ctx, jobID, domain.LearningEntry{
		ProspectArchetype:  result.ProspectArchetype,
		StyleEffectiveness: result.StyleEffectiveness,
		Suggestions:        result.Suggestions,
	})
}
