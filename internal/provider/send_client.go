package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httpretry"
)

// SendClientConfig configures the HTTP send/conversation client.
type SendClientConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	MaxRetries     int
}

func (c SendClientConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendClient talks to the outreach delivery service. It implements both
// SendProvider and ConversationLister because the service owns both sides
// of a conversation.
type SendClient struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.Doer
}

// NewSendClient creates a delivery service client with retrying transport.
func NewSendClient(cfg SendClientConfig) *SendClient {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &SendClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpretry.New(&http.Client{Timeout: cfg.timeout()}, retries),
	}
}

type sendRequest struct {
	Recipient        string            `json:"recipient"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	Personalizations map[string]string `json:"personalizations,omitempty"`
	ProspectID       string            `json:"prospect_id"`
	CampaignID       string            `json:"campaign_id"`
}

type sendResponse struct {
	MessageID  string    `json:"message_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Send hands one email to the delivery service and returns its external
// reference. A 4xx means the payload can never be delivered and is marked
// non-retriable; 5xx and transport errors remain retriable.
func (c *SendClient) Send(ctx context.Context, job domain.EmailJob) (SendResult, error) {
	payload, err := json.Marshal(sendRequest{
		Recipient:        job.Email.Recipient,
		Subject:          job.Email.Subject,
		Body:             job.Email.Body,
		Personalizations: job.Email.Personalizations,
		ProspectID:       job.ProspectID,
		CampaignID:       job.CampaignID,
	})
	if err != nil {
		return SendResult{}, NonRetriable(fmt.Errorf("marshal send request: %w", err))
	}

	body, status, err := c.doRequest(ctx, http.MethodPost, "/v1/messages", payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	if status >= 400 && status < 500 {
		return SendResult{}, NonRetriablef("send rejected (status %d): %s", status, string(body))
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return SendResult{}, fmt.Errorf("send failed (status %d): %s", status, string(body))
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SendResult{}, fmt.Errorf("parse send response: %w", err)
	}
	if resp.MessageID == "" {
		return SendResult{}, fmt.Errorf("send response missing message_id")
	}

	accepted := resp.AcceptedAt
	if accepted.IsZero() {
		accepted = time.Now()
	}
	return SendResult{ExternalRef: resp.MessageID, AcceptedAt: accepted}, nil
}

type listConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// ListUpdatedConversations returns threads with activity after since.
func (c *SendClient) ListUpdatedConversations(ctx context.Context, since time.Time) ([]Conversation, error) {
	path := "/v1/conversations?updated_after=" + since.UTC().Format(time.RFC3339)
	body, status, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list conversations (status %d): %s", status, string(body))
	}

	var resp listConversationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse conversations: %w", err)
	}
	return resp.Conversations, nil
}

func (c *SendClient) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}
