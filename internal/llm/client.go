// Package llm is the model boundary. Every model endpoint the harness talks
// to - ego, superego, judge, generated learner - is an interchangeable
// Client; which model serves which role, and which model to fall back to,
// is profile configuration, never code.
package llm

import "context"

// Options constrains a single generation call.
type Options struct {
	System          string  // system prompt, empty for none
	MaxOutputTokens int     // 0 uses the provider default
	Temperature     float64 // <0 uses the provider default
}

// DefaultOptions returns the neutral option set.
func DefaultOptions() Options {
	return Options{Temperature: -1}
}

// Client is the minimal capability the harness needs from a model:
// generate(prompt, constraints) -> text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteWithOptions(ctx context.Context, prompt string, opts Options) (string, error)
	Model() string
}
