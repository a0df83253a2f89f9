package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httpretry"
)

// AnalysisClientConfig configures the reply analysis client.
type AnalysisClientConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	MaxRetries     int
}

// AnalysisClient talks to the reply analysis service.
type AnalysisClient struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.Doer
}

// NewAnalysisClient creates an analysis service client with retrying transport.
func NewAnalysisClient(cfg AnalysisClientConfig) *AnalysisClient {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &AnalysisClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpretry.New(&http.Client{Timeout: timeout}, retries),
	}
}

type analyzeRequest struct {
	SentSubject string `json:"sent_subject"`
	SentBody    string `json:"sent_body"`
	ReplyText   string `json:"reply_text"`
}

type analyzeResponse struct {
	Classification     string   `json:"classification"`
	Sentiment          float64  `json:"sentiment"`
	Quality            float64  `json:"quality"`
	Engagement         float64  `json:"engagement"`
	ProspectArchetype  string   `json:"prospect_archetype"`
	StyleEffectiveness float64  `json:"style_effectiveness"`
	Suggestions        []string `json:"suggestions"`
}

// Analyze scores a reply against the email it answers. An unknown
// classification from the service degrades to neutral rather than failing
// the reconcile.
func (c *AnalysisClient) Analyze(ctx context.Context, sent domain.GeneratedEmail, replyText string) (AnalysisResult, error) {
	payload, err := json.Marshal(analyzeRequest{
		SentSubject: sent.Subject,
		SentBody:    sent.Body,
		ReplyText:   replyText,
	})
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return AnalysisResult{}, fmt.Errorf("analyze failed (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return AnalysisResult{}, fmt.Errorf("parse analyze response: %w", err)
	}

	classification := domain.Classification(parsed.Classification)
	if !domain.KnownClassification(classification) {
		classification = domain.ClassNeutral
	}

	return AnalysisResult{
		Classification:     classification,
		Sentiment:          parsed.Sentiment,
		Quality:            parsed.Quality,
		Engagement:         parsed.Engagement,
		ProspectArchetype:  parsed.ProspectArchetype,
		StyleEffectiveness: parsed.StyleEffectiveness,
		Suggestions:        parsed.Suggestions,
	}, nil
}

// KeywordAnalyzer is the fallback when no analysis service is configured.
// It buckets replies with simple keyword rules so the pipeline still
// records classified responses.
type KeywordAnalyzer struct{}

var keywordClasses = []struct {
	class    domain.Classification
	keywords []string
}{
	{domain.ClassUnsubscribe, []string{"unsubscribe", "remove me", "stop emailing"}},
	{domain.ClassOutOfOffice, []string{"out of office", "on vacation", "auto-reply", "autoreply"}},
	{domain.ClassMeetingRequest, []string{"schedule", "calendar", "meeting", "call next"}},
	{domain.ClassReferral, []string{"right person", "forward this", "reach out to"}},
	{domain.ClassObjection, []string{"too expensive", "not in budget", "already have"}},
	{domain.ClassNegative, []string{"not interested", "no thanks", "don't contact"}},
	{domain.ClassPositive, []string{"interested", "sounds good", "tell me more", "love to"}},
}

func (KeywordAnalyzer) Analyze(_ context.Context, _ domain.GeneratedEmail, replyText string) (AnalysisResult, error) {
	text := strings.ToLower(replyText)
	for _, kc := range keywordClasses {
		for _, kw := range kc.keywords {
			if strings.Contains(text, kw) {
				return AnalysisResult{Classification: kc.class}, nil
			}
		}
	}
	return AnalysisResult{Classification: domain.ClassNeutral}, nil
}
