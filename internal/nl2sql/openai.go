package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAICompleter talks to any server exposing the OpenAI-compatible
// /v1/completions endpoint (llama.cpp server, vLLM, LocalAI, ...).
type OpenAICompleter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAICompleter{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenAICompleter) Model() string {
	return c.model
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	body, err := json.Marshal(buildCompletionPayload(c.model, prompt, cfg))
	if err != nil {
		return "", NewError(KindGenerationFailure, "marshal completion payload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", NewError(KindGenerationFailure, "build completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", NewError(KindGenerationFailure, "completion timed out", err)
		}
		return "", NewError(KindGenerationFailure, "request completion", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewError(KindGenerationFailure, "read completion response body", err)
	}
	if resp.StatusCode >= 400 {
		return "", NewError(KindGenerationFailure, fmt.Sprintf("completion failed status=%d body=%s", resp.StatusCode, truncate(string(rawRespBody), 512)), nil)
	}

	var parsed struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", NewError(KindGenerationFailure, "decode completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", NewError(KindGenerationFailure, "empty completion choices", nil)
	}
	return parsed.Choices[0].Text, nil
}

func buildCompletionPayload(model, prompt string, cfg GenerationConfig) map[string]any {
	payload := map[string]any{
		"model":       model,
		"prompt":      prompt,
		"max_tokens":  cfg.MaxTokens,
		"temperature": cfg.Temperature,
		"top_p":       cfg.TopP,
	}
	if cfg.RepetitionPenalty > 0 {
		payload["repetition_penalty"] = cfg.RepetitionPenalty
	}
	if len(cfg.Stop) > 0 {
		payload["stop"] = cfg.Stop
	}
	return payload
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
