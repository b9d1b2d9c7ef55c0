package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/finanalyzer/internal/logger"
)

var (
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("gemini API key not configured")
	// ErrNoCandidate is returned when a response carries no candidate text.
	ErrNoCandidate = errors.New("no candidate text in gemini response")
)

// Provider is the interface for the generative model backend.
type Provider interface {
	GenerateContent(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	ListModels(ctx context.Context) ([]Model, error)
	IsConfigured() bool
}

// APIError is a non-2xx reply from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API returned %d: %s", e.StatusCode, e.Body)
}

// Blob is inline binary data, base64 encoded.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one piece of a content turn: either text or inline data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is a single conversation turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// GenerateRequest is the generateContent request body.
type GenerateRequest struct {
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Contents          []Content        `json:"contents"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// GenerateResponse is the generateContent response body.
type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// FirstText returns the first text part of the first candidate.
func (r *GenerateResponse) FirstText() (string, error) {
	if r == nil || len(r.Candidates) == 0 {
		return "", ErrNoCandidate
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text, nil
		}
	}
	return "", ErrNoCandidate
}

// Model describes one entry of the models listing.
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// GeminiProvider talks to the Generative Language REST API.
type GeminiProvider struct {
	Model   string
	BaseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGeminiProvider creates a new Gemini provider. A requestsPerMinute of
// zero disables client-side rate limiting.
func NewGeminiProvider(model, baseURL, apiKey string, timeout time.Duration, requestsPerMinute int) *GeminiProvider {
	p := &GeminiProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
	if requestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return p
}

// IsConfigured checks if the API key is set.
func (g *GeminiProvider) IsConfigured() bool {
	return g.apiKey != ""
}

// GenerateContent sends a request to the model and returns the decoded response.
func (g *GeminiProvider) GenerateContent(ctx context.Context, gr *GenerateRequest) (*GenerateResponse, error) {
	if !g.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.BaseURL, g.Model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", redactKey(err, g.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"model":      g.Model,
		"candidates": len(result.Candidates),
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Debug("gemini generateContent complete")

	return &result, nil
}

// ListModels returns the models visible to the configured API key.
func (g *GeminiProvider) ListModels(ctx context.Context) ([]Model, error) {
	if !g.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models?key=%s", g.BaseURL, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", redactKey(err, g.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	return result.Models, nil
}

func (g *GeminiProvider) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}

// redactKey strips the API key from transport errors, which embed the request URL.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED")
	msg = strings.ReplaceAll(msg, key, "REDACTED")
	if msg == err.Error() {
		return err
	}
	return errors.New(msg)
}

// CreateProvider creates the Gemini provider, logging when no key is set.
func CreateProvider(model, baseURL, apiKey, apiKeyEnv string, timeout time.Duration, requestsPerMinute int) Provider {
	p := NewGeminiProvider(model, baseURL, apiKey, timeout, requestsPerMinute)
	if p.IsConfigured() {
		logger.Log.Infof("Using Gemini with model: %s", model)
	} else {
		logger.Log.Warnf("No Gemini API key found. Set %s to enable analysis.", apiKeyEnv)
	}
	return p
}
