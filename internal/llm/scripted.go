package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient returns queued responses in order. Tests and dry runs use
// it in place of a real provider; it also backs the idempotence checks,
// since its output is fully deterministic.
type ScriptedClient struct {
	mu        sync.Mutex
	model     string
	responses []string
	next      int
	calls     int

	// OnCall, when set, observes every prompt. Tests use it to assert
	// what was sent without reimplementing the client.
	OnCall func(prompt string, opts Options)
}

// NewScriptedClient creates a client that replays the given responses.
// When the queue is exhausted the last response repeats.
func NewScriptedClient(model string, responses ...string) *ScriptedClient {
	return &ScriptedClient{model: model, responses: responses}
}

// Model returns the scripted model name.
func (c *ScriptedClient) Model() string { return c.model }

// Calls reports how many generations were served.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Complete returns the next scripted response.
func (c *ScriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithOptions(ctx, prompt, DefaultOptions())
}

// CompleteWithSystem returns the next scripted response.
func (c *ScriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	opts := DefaultOptions()
	opts.System = systemPrompt
	return c.CompleteWithOptions(ctx, userPrompt, opts)
}

// CompleteWithOptions returns the next scripted response.
func (c *ScriptedClient) CompleteWithOptions(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.OnCall != nil {
		c.OnCall(prompt, opts)
	}
	if len(c.responses) == 0 {
		return "", fmt.Errorf("scripted client %q has no responses", c.model)
	}
	resp := c.responses[c.next]
	if c.next < len(c.responses)-1 {
		c.next++
	}
	return resp, nil
}
