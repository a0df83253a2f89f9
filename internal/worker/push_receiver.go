package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Outreach-Signature"

// ErrBadSignature rejects a push event whose HMAC does not match.
var ErrBadSignature = domain.ErrBadSignature

// PushEvent is the payload the conversation service pushes on new replies.
// Field names follow that service's wire format.
type PushEvent struct {
	ConversationID string        `json:"conversationId"`
	AccountID      string        `json:"accountId,omitempty"`
	Messages       []PushMessage `json:"messages"`
}

// PushMessage is one inbound message within a push event.
type PushMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	FromAddress string    `json:"fromAddress"`
	Text        string    `json:"text"`
}

// PushReceiver is the webhook side of the response monitor. It verifies
// event authenticity, normalizes messages, and feeds the reconciler.
type PushReceiver struct {
	secret     []byte
	reconciler *Reconciler

	// Stats
	totalAccepted int64
	totalRejected int64
}

// NewPushReceiver creates a receiver with the given signing secret.
func NewPushReceiver(secret string, reconciler *Reconciler) *PushReceiver {
	return &PushReceiver{secret: []byte(secret), reconciler: reconciler}
}

// Sign returns the hex HMAC-SHA256 of body under the receiver's secret.
// Exposed so tests and local tooling can produce valid events.
func (p *PushReceiver) Sign(body []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the hex signature against the raw body.
func (p *PushReceiver) VerifySignature(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Ingest verifies and processes one raw push event. ErrBadSignature means
// the caller must respond 401 and discard; any other error means nothing
// was committed and the sender should redeliver.
func (p *PushReceiver) Ingest(ctx context.Context, body []byte, signature string) error {
	if !p.VerifySignature(body, signature) {
		atomic.AddInt64(&p.totalRejected, 1)
		return ErrBadSignature
	}

	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		atomic.AddInt64(&p.totalRejected, 1)
		return fmt.Errorf("%w: malformed push event: %v", domain.ErrValidation, err)
	}
	if event.ConversationID == "" {
		atomic.AddInt64(&p.totalRejected, 1)
		return fmt.Errorf("%w: push event missing conversationId", domain.ErrValidation)
	}

	for _, msg := range event.Messages {
		obs := domain.ObservedResponse{
			ConversationID: event.ConversationID,
			MessageTS:      msg.Timestamp,
			FromAddress:    msg.FromAddress,
			Text:           msg.Text,
			Source:         "push",
		}
		if err := p.reconciler.Process(ctx, obs); err != nil {
			return fmt.Errorf("process push message: %w", err)
		}
	}

	atomic.AddInt64(&p.totalAccepted, 1)
	return nil
}

// Stats reports lifetime counters.
func (p *PushReceiver) Stats() map[string]int64 {
	return map[string]int64{
		"accepted": atomic.LoadInt64(&p.totalAccepted),
		"rejected": atomic.LoadInt64(&p.totalRejected),
	}
}
