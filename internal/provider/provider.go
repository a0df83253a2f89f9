// Package provider defines the external collaborators the engine talks to
// over HTTP: the send service that delivers generated emails, the analysis
// service that scores replies, and the conversation listing used by the
// reply poller. Consumers depend on the interfaces; the HTTP clients here
// are the production implementations.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// SendResult is what a successful delivery hand-off returns.
type SendResult struct {
	ExternalRef string    // provider-side message/conversation reference
	AcceptedAt  time.Time
}

// SendProvider delivers one generated email.
type SendProvider interface {
	Send(ctx context.Context, job domain.EmailJob) (SendResult, error)
}

// AnalysisResult carries the scores and learning hints for one reply.
type AnalysisResult struct {
	Classification     domain.Classification
	Sentiment          float64
	Quality            float64
	Engagement         float64
	ProspectArchetype  string
	StyleEffectiveness float64
	Suggestions        []string
}

// AnalysisProvider scores a reply in the context of the email it answers.
type AnalysisProvider interface {
	Analyze(ctx context.Context, sent domain.GeneratedEmail, replyText string) (AnalysisResult, error)
}

// Conversation is one thread with new activity since the poll watermark.
type Conversation struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Message is one inbound message within a conversation.
type Message struct {
	TS   time.Time `json:"ts"`
	From string    `json:"from"`
	Text string    `json:"text"`
}

// ConversationLister is the polling side of the response monitor.
type ConversationLister interface {
	ListUpdatedConversations(ctx context.Context, since time.Time) ([]Conversation, error)
}

// nonRetriable marks errors where another attempt cannot succeed, such as a
// rejected recipient or a 4xx from the send service.
type nonRetriable struct{ err error }

func (e *nonRetriable) Error() string { return e.err.Error() }
func (e *nonRetriable) Unwrap() error { return e.err }

// NonRetriable wraps err so IsNonRetriable reports true for it.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriable{err: err}
}

// NonRetriablef is NonRetriable over a formatted error.
func NonRetriablef(format string, args ...interface{}) error {
	return &nonRetriable{err: fmt.Errorf(format, args...)}
}

// IsNonRetriable reports whether err was marked permanent at the provider
// boundary. The dispatcher fails such jobs immediately instead of retrying.
func IsNonRetriable(err error) bool {
	var nr *nonRetriable
	return errors.As(err, &nr)
}
