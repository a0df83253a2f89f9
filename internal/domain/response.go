package domain

import "time"

// Classification buckets a reply into one of the fixed categories the
// analysis collaborator produces.
type Classification string

const (
	ClassPositive       Classification = "positive"
	ClassNegative       Classification = "negative"
	ClassNeutral        Classification = "neutral"
	ClassMeetingRequest Classification = "meeting_request"
	ClassObjection      Classification = "objection"
	ClassReferral       Classification = "referral"
	ClassOutOfOffice    Classification = "out_of_office"
	ClassUnsubscribe    Classification = "unsubscribe"
)

// KnownClassification reports whether c is one of the fixed categories.
func KnownClassification(c Classification) bool {
	switch c {
	case ClassPositive, ClassNegative, ClassNeutral, ClassMeetingRequest,
		ClassObjection, ClassReferral, ClassOutOfOffice, ClassUnsubscribe:
		return true
	}
	return false
}

// ObservedResponse is the normalized shape both ingestion channels (push
// webhook and reconciliation poll) produce before dedup. The pair
// (ConversationID, MessageTS) is the dedup key: one logical response per key,
// regardless of which channel reported it first.
type ObservedResponse struct {
	ConversationID string    `json:"conversation_id"`
	MessageTS      time.Time `json:"message_ts"`
	FromAddress    string    `json:"from_address"`
	Text           string    `json:"text"`
	Source         string    `json:"source"` // "push" or "poll"
}

// DedupKey returns the identity of this observed event.
func (o ObservedResponse) DedupKey() (string, time.Time) {
	return o.ConversationID, o.MessageTS.UTC()
}

// Response is a committed reply attached to a job, with the analysis
// collaborator's scores. Multiple replies in the same thread accumulate as a
// sequence on the job.
type Response struct {
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	MessageTS      time.Time      `json:"message_ts" db:"message_ts"`
	Text           string         `json:"text" db:"text"`
	Classification Classification `json:"classification" db:"classification"`
	Sentiment      float64        `json:"sentiment" db:"sentiment"`
	Quality        float64        `json:"quality" db:"quality"`
	Engagement     float64        `json:"engagement" db:"engagement"`
	Source         string         `json:"source" db:"source"`
	ReceivedAt     time.Time      `json:"received_at" db:"received_at"`
}

// LearningEntry is one derived learning record per committed response.
// Entries accumulate in commit order; earlier entries are never overwritten.
type LearningEntry struct {
	ProspectArchetype  string    `json:"prospect_archetype" db:"prospect_archetype"`
	StyleEffectiveness float64   `json:"style_effectiveness" db:"style_effectiveness"`
	Suggestions        []string  `json:"suggestions,omitempty"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// OrphanEvent records a reply that matched no job by external ref.
type OrphanEvent struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	MessageTS      time.Time `json:"message_ts" db:"message_ts"`
	Text           string    `json:"text" db:"text"`
	Source         string    `json:"source" db:"source"`
	RecordedAt     time.Time `json:"recorded_at" db:"recorded_at"`
}
