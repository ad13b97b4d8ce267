package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"paideia/internal/logging"

	"go.uber.org/zap"
)

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client for the given Gemini model.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Model returns the bound model name.
func (c *GeminiClient) Model() string { return c.model }

// Complete generates text for a bare prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithOptions(ctx, prompt, DefaultOptions())
}

// CompleteWithSystem generates text under a system prompt.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	opts := DefaultOptions()
	opts.System = systemPrompt
	return c.CompleteWithOptions(ctx, userPrompt, opts)
}

// CompleteWithOptions generates text under explicit constraints.
func (c *GeminiClient) CompleteWithOptions(ctx context.Context, prompt string, opts Options) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if opts.Temperature >= 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	logging.L(logging.CategoryLLM).Debug("gemini call",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		logging.L(logging.CategoryLLM).Warn("gemini returned empty text",
			zap.String("model", c.model))
	}
	return text, nil
}

// responseText flattens all text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
