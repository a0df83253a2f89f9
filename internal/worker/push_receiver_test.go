package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/provider"
)

func newTestReceiver(store *memStore) *PushReceiver {
	analyzer := &stubAnalyzer{result: provider.AnalysisResult{Classification: domain.ClassPositive}}
	return NewPushReceiver("test-secret", newTestReconciler(store, analyzer))
}

func pushBody(t *testing.T, conversationID string, ts time.Time) []byte {
	t.Helper()
	body, err := json.Marshal(PushEvent{
		ConversationID: conversationID,
		Messages: []PushMessage{
			{Timestamp: ts, FromAddress: "prospect@example.com", Text: "let's talk"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestPushReceiverAcceptsSignedEvent(t *testing.T) {
	store := newMemStore()
	store.addQueuedJob("j-1", "conv-1")
	p := newTestReceiver(store)

	body := pushBody(t, "conv-1", time.Now())
	if err := p.Ingest(context.Background(), body, p.Sign(body)); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	if len(store.job("j-1").Responses) != 1 {
		t.Error("valid push must commit a response")
	}
	if p.Stats()["accepted"] != 1 {
		t.Errorf("unexpected stats: %v", p.Stats())
	}
}

func TestPushReceiverWireFormat(t *testing.T) {
	store := newMemStore()
	store.addQueuedJob("j-1", "conv-1")
	p := newTestReceiver(store)

	// the conversation service's documented payload, verbatim
	body := []byte(`{
		"conversationId": "conv-1",
		"accountId": "acct-9",
		"messages": [
			{"text": "let's talk", "fromAddress": "prospect@example.com", "timestamp": "2025-06-01T10:00:00Z"}
		]
	}`)
	if err := p.Ingest(context.Background(), body, p.Sign(body)); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	responses := store.job("j-1").Responses
	if len(responses) != 1 {
		t.Fatalf("expected 1 committed response, got %d", len(responses))
	}
	if responses[0].Text != "let's talk" {
		t.Errorf("unexpected text %q", responses[0].Text)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !responses[0].MessageTS.Equal(want) {
		t.Errorf("timestamp not carried through: %v", responses[0].MessageTS)
	}
}

func TestPushReceiverRejectsBadSignature(t *testing.T) {
	store := newMemStore()
	store.addQueuedJob("j-1", "conv-1")
	p := newTestReceiver(store)

	body := pushBody(t, "conv-1", time.Now())

	cases := []string{
		"",
		"deadbeef",
		"not-hex!!",
		NewPushReceiver("wrong-secret", nil).Sign(body),
	}
	for _, sig := range cases {
		err := p.Ingest(context.Background(), body, sig)
		if !errors.Is(err, ErrBadSignature) {
			t.Errorf("signature %q: expected ErrBadSignature, got %v", sig, err)
		}
	}

	if n := len(store.job("j-1").Responses); n != 0 {
		t.Errorf("rejected events must not commit, got %d responses", n)
	}
	if p.Stats()["rejected"] != int64(len(cases)) {
		t.Errorf("unexpected stats: %v", p.Stats())
	}
}

func TestPushReceiverTamperedBody(t *testing.T) {
	store := newMemStore()
	store.addQueuedJob("j-1", "conv-1")
	p := newTestReceiver(store)

	body := pushBody(t, "conv-1", time.Now())
	sig := p.Sign(body)

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] ^= 0xff

	if err := p.Ingest(context.Background(), tampered, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for tampered body, got %v", err)
	}
}

func TestPushReceiverMalformedPayload(t *testing.T) {
	p := newTestReceiver(newMemStore())

	for _, body := range [][]byte{
		[]byte("not json"),
		[]byte(`{"messages":[{"timestamp":"2025-06-01T00:00:00Z","text":"hi"}]}`), // no conversationId
	} {
		err := p.Ingest(context.Background(), body, p.Sign(body))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("body %q: expected ErrValidation, got %v", body, err)
		}
	}
}

func TestPushReceiverDuplicateDeliveryIsAccepted(t *testing.T) {
	store := newMemStore()
	store.addQueuedJob("j-1", "conv-1")
	p := newTestReceiver(store)

	body := pushBody(t, "conv-1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	sig := p.Sign(body)
	ctx := context.Background()

	if err := p.Ingest(ctx, body, sig); err != nil {
		t.Fatalf("first delivery error: %v", err)
	}
	// webhook retries deliver the same event again
	if err := p.Ingest(ctx, body, sig); err != nil {
		t.Fatalf("duplicate delivery must be accepted, got %v", err)
	}

	if n := len(store.job("j-1").Responses); n != 1 {
		t.Errorf("expected exactly 1 committed response, got %d", n)
	}
}
