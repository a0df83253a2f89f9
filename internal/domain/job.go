package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates the lifecycle states of an email job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

// validTransitions is the full transition graph. Anything not listed here
// is rejected with ErrInvalidTransition.
var validTransitions = map[JobStatus][]JobStatus{
	JobQueued:     {JobProcessing},
	JobProcessing: {JobCompleted, JobFailed, JobRetrying},
	JobRetrying:   {JobProcessing},
}

// CanTransition reports whether moving from -> to is allowed.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both states)
// if the move is not in the transition graph.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal returns true for states no transition may leave.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// GeneratedEmail is the fully-personalized message handed to the engine by
// the generation pipeline. It is immutable once attached to a job.
type GeneratedEmail struct {
	Recipient        string            `json:"recipient"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	Personalizations map[string]string `json:"personalizations,omitempty"`
}

// Validate rejects malformed generated emails before a job can exist.
func (e *GeneratedEmail) Validate() error {
	if strings.TrimSpace(e.Recipient) == "" || !strings.Contains(e.Recipient, "@") {
		return fmt.Errorf("%w: missing or malformed recipient", ErrValidation)
	}
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("%w: empty subject", ErrValidation)
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("%w: empty body", ErrValidation)
	}
	return nil
}

// JobAnalytics holds monotonic per-job delivery and engagement timestamps.
// Each timestamp is set at most once and never regresses.
type JobAnalytics struct {
	SentAt    *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`
	RepliedAt *time.Time `json:"replied_at,omitempty" db:"replied_at"`
}

// Opened reports whether the recipient opened the email.
func (a JobAnalytics) Opened() bool { return a.OpenedAt != nil }

// Replied reports whether the recipient replied.
func (a JobAnalytics) Replied() bool { return a.RepliedAt != nil }

// EmailJob is one outbound send attempt plus its lifecycle and later replies.
type EmailJob struct {
	ID         string `json:"id" db:"id"`
	ProspectID string `json:"prospect_id" db:"prospect_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Status   JobStatus `json:"status" db:"status"`
	Attempts int       `json:"attempts" db:"attempts"`

	Email GeneratedEmail `json:"email"`

	// ExternalRef is the draft/thread id returned by the send provider.
	// Set at most once; required before any response can be attached.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// Responses accumulate in arrival order, one per distinct
	// (conversation id, message timestamp) event. Earlier replies are
	// never overwritten by later ones.
	Responses []Response `json:"responses,omitempty"`

	Learning []LearningEntry `json:"learning,omitempty"`

	Analytics JobAnalytics `json:"analytics"`

	Cancelled bool `json:"cancelled" db:"cancelled"`

	// ErrorMsg holds the last failure, present only in failed/retrying.
	ErrorMsg string `json:"error_msg,omitempty" db:"error_msg"`

	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate checks the fields required for a job to enter the queue.
func (j *EmailJob) Validate() error {
	if j.ProspectID == "" {
		return fmt.Errorf("%w: missing prospect reference", ErrValidation)
	}
	if j.CampaignID == "" {
		return fmt.Errorf("%w: missing campaign reference", ErrValidation)
	}
	return j.Email.Validate()
}
