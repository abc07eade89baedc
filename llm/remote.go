package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
)

// RemoteCapability speaks an OpenAI-compatible chat-completions contract
// (matching original_source's direct use of the OpenAI client for field
// extraction, title synthesis, and compound parsing) and falls back to
// FallbackCapability on any error or timeout, per spec.md §4.6: "C10
// never blocks the critical path."
type RemoteCapability struct {
	client   *http.Client
	baseURL  string // e.g. https://api.openai.com/v1
	apiKey   string
	model    string
	fallback *FallbackCapability
	log      *common.ContextLogger
}

// Config configures the remote chat-completions endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewRemoteCapability builds a Capability that tries the remote endpoint
// first and degrades silently to rule-based behavior.
func NewRemoteCapability(cfg Config, log *common.ContextLogger) *RemoteCapability {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &RemoteCapability{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		fallback: NewFallbackCapability(),
		log:      log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete issues one chat-completions call and returns the first choice's
// content, or an error (never partial content — callers fall back whole).
func (r *RemoteCapability) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat request status %d: %s", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (r *RemoteCapability) degrade(method string, err error) {
	if r.log != nil {
		r.log.WithField("method", method).WithError(err).Warn("llm capability unavailable, using fallback")
	}
}

// ExtractFields asks the model for {fields:[{label,type}]} JSON; any parse
// or transport failure degrades to the keyword extractor.
func (r *RemoteCapability) ExtractFields(ctx context.Context, ocrText string) ([]ExtractedField, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	content, err := r.complete(ctx,
		"Extract form fields from the given OCR text. Reply with JSON {\"fields\":[{\"label\":...,\"type\":...}]} only. type must be one of text,email,tel,date,number,textarea.",
		ocrText)
	if err != nil {
		r.degrade("ExtractFields", err)
		return r.fallback.ExtractFields(ctx, ocrText)
	}

	var parsed struct {
		Fields []ExtractedField `json:"fields"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		r.degrade("ExtractFields", err)
		return r.fallback.ExtractFields(ctx, ocrText)
	}
	return parsed.Fields, nil
}

// SynthesizeTitle asks the model for a short Vietnamese title; falls back
// to the first non-header OCR line.
func (r *RemoteCapability) SynthesizeTitle(ctx context.Context, ocrText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	title, err := r.complete(ctx, "Give a short Vietnamese title (max 100 characters) for this form. Reply with the title only.", ocrText)
	if err != nil {
		r.degrade("SynthesizeTitle", err)
		return r.fallback.SynthesizeTitle(ctx, ocrText)
	}
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > 100 {
		title = string(runes[:100])
	}
	return title, nil
}

// GenerateQuestion asks the model for friendlier phrasing; falls back to
// the deterministic template.
func (r *RemoteCapability) GenerateQuestion(ctx context.Context, field repository.FieldDescriptor, recentLabels []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Field label: %q, type: %s. Recent fields: %v. Write one short, friendly Vietnamese question asking the user for this value.", field.Label, field.Type, recentLabels)
	question, err := r.complete(ctx, "You write short, friendly Vietnamese questions for an elderly-friendly form-filling assistant.", prompt)
	if err != nil {
		r.degrade("GenerateQuestion", err)
		return r.fallback.GenerateQuestion(ctx, field, recentLabels)
	}
	return strings.TrimSpace(question), nil
}

// ValidateAnswer asks the model to classify the answer; falls back to
// always-valid (plus the short-phone-number heuristic).
func (r *RemoteCapability) ValidateAnswer(ctx context.Context, field repository.FieldDescriptor, value string) (Classification, string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Field %q (%s) was answered %q. Reply with JSON {\"classification\":\"valid|needs-confirmation|invalid\",\"hint\":\"...\"}.", field.Label, field.Type, value)
	content, err := r.complete(ctx, "You grade form answers for plausibility, not just format.", prompt)
	if err != nil {
		r.degrade("ValidateAnswer", err)
		return r.fallback.ValidateAnswer(ctx, field, value)
	}

	var parsed struct {
		Classification Classification `json:"classification"`
		Hint           string          `json:"hint"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Classification == "" {
		r.degrade("ValidateAnswer", err)
		return r.fallback.ValidateAnswer(ctx, field, value)
	}
	return parsed.Classification, parsed.Hint, nil
}

// ParseCompound asks the model to split a free-form compound answer;
// falls back to the regex-based subfield extractor.
func (r *RemoteCapability) ParseCompound(ctx context.Context, field repository.FieldDescriptor, raw string) (CompoundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	subIDs := make([]string, 0, len(field.Subfields))
	for _, s := range field.Subfields {
		subIDs = append(subIDs, s.ID)
	}
	prompt := fmt.Sprintf("Split this Vietnamese answer into the subfields %v: %q. Reply with JSON {\"parsed\":{...},\"missing\":[...]}.", subIDs, raw)
	content, err := r.complete(ctx, "You extract structured subfields from Vietnamese free text.", prompt)
	if err != nil {
		r.degrade("ParseCompound", err)
		return r.fallback.ParseCompound(ctx, field, raw)
	}

	var parsed CompoundResult
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		r.degrade("ParseCompound", err)
		return r.fallback.ParseCompound(ctx, field, raw)
	}
	parsed.NeedsClarification = len(parsed.Missing) > 0
	return parsed, nil
}

// RenderPreview asks the model for polished prose; falls back to the
// deterministic "{label}: {value}" join.
func (r *RemoteCapability) RenderPreview(ctx context.Context, items []PreviewItem) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s: %s\n", it.Label, it.Value)
	}
	content, err := r.complete(ctx, "Write a short, polished Vietnamese summary of these answers for printing.", b.String())
	if err != nil {
		r.degrade("RenderPreview", err)
		return r.fallback.RenderPreview(ctx, items)
	}
	return strings.TrimSpace(content), nil
}
