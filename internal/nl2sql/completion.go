package nl2sql

import (
	"context"
	"fmt"
	"time"
)

type GenerationConfig struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	Stop              []string
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxTokens:         512,
		Temperature:       0.1,
		TopP:              0.95,
		RepetitionPenalty: 1.1,
		Stop:              []string{"</s>", "[INST]", "Question:", "SQL:", "```", "Here's", "The query"},
	}
}

// Completer is the text-completion capability: prompt in, raw text out.
type Completer interface {
	Complete(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}

// RetryingCompleter calls Next up to Attempts times with the same prompt and
// returns the first successful completion.
type RetryingCompleter struct {
	Next     Completer
	Attempts int
	Backoff  time.Duration
}

func (r *RetryingCompleter) Complete(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		text, err := r.Next.Complete(ctx, prompt, cfg)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		if r.Backoff > 0 {
			select {
			case <-ctx.Done():
				return "", NewError(KindGenerationFailure, "completion cancelled", ctx.Err())
			case <-time.After(r.Backoff):
			}
		}
	}
	return "", NewError(KindGenerationFailure, fmt.Sprintf("completion failed after %d attempt(s)", made), lastErr)
}
