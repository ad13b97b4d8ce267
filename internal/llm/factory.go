package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"paideia/internal/config"
)

// Factory builds and caches clients by model name. Model names prefixed
// "gemini" route to the GenAI SDK; everything else goes to the
// OpenAI-compatible endpoint. "scripted:" names build deterministic stubs,
// used by dry runs.
type Factory struct {
	mu      sync.Mutex
	cfg     config.LLMConfig
	clients map[string]Client
}

// NewFactory creates a client factory over provider configuration.
func NewFactory(cfg config.LLMConfig) *Factory {
	return &Factory{cfg: cfg, clients: make(map[string]Client)}
}

// Client returns the client for a model name, constructing it on first use.
func (f *Factory) Client(ctx context.Context, model string) (Client, error) {
	if model == "" {
		return nil, fmt.Errorf("empty model name")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[model]; ok {
		return c, nil
	}

	c, err := f.build(ctx, model)
	if err != nil {
		return nil, err
	}
	f.clients[model] = c
	return c, nil
}

func (f *Factory) build(ctx context.Context, model string) (Client, error) {
	switch {
	case strings.HasPrefix(model, "scripted:"):
		return NewScriptedClient(model, "{}"), nil
	case strings.HasPrefix(model, "gemini"):
		return NewGeminiClient(ctx, f.cfg.GeminiAPIKey, model)
	default:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  f.cfg.OpenAIAPIKey,
			BaseURL: f.cfg.OpenAIBase,
			Model:   model,
			Timeout: parseTimeout(f.cfg.Timeout),
		})
	}
}

// Register installs a prebuilt client under a model name. Tests use this to
// inject scripted clients behind real profile model names.
func (f *Factory) Register(model string, c Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[model] = c
}

func parseTimeout(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// RoleSet resolves a profile's role bindings into clients. Fallback clients
// are the retry escalation targets; both sides are data from the profile.
type RoleSet struct {
	primary  map[string]Client
	fallback map[string]Client
}

// NewRoleSet builds clients for every role a profile binds.
func NewRoleSet(ctx context.Context, f *Factory, p config.Profile) (*RoleSet, error) {
	rs := &RoleSet{
		primary:  make(map[string]Client),
		fallback: make(map[string]Client),
	}
	for role, model := range p.Models {
		c, err := f.Client(ctx, model)
		if err != nil {
			return nil, fmt.Errorf("profile %q role %q: %w", p.ID, role, err)
		}
		rs.primary[role] = c
	}
	for role, model := range p.FallbackModels {
		c, err := f.Client(ctx, model)
		if err != nil {
			return nil, fmt.Errorf("profile %q fallback role %q: %w", p.ID, role, err)
		}
		rs.fallback[role] = c
	}
	return rs, nil
}

// RoleSetFromClients builds a RoleSet from already-constructed clients.
// Used for derived role bindings that share another profile's clients.
func RoleSetFromClients(primary, fallback map[string]Client) *RoleSet {
	rs := &RoleSet{
		primary:  make(map[string]Client, len(primary)),
		fallback: make(map[string]Client, len(fallback)),
	}
	for role, c := range primary {
		rs.primary[role] = c
	}
	for role, c := range fallback {
		rs.fallback[role] = c
	}
	return rs
}

// Primary returns the client bound to role, or nil.
func (r *RoleSet) Primary(role string) Client { return r.primary[role] }

// Fallback returns the fallback client for role, or nil when none is
// configured.
func (r *RoleSet) Fallback(role string) Client { return r.fallback[role] }
