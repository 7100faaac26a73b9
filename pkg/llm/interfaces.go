// Package llm provides clients for the external generation capability.
package llm

import "context"

// Client is the generation capability: given a prompt, returns text.
// Implementations are unreliable and untrusted; callers must re-parse and
// re-validate everything a client returns, never execute it on trust.
type Client interface {
	// Generate produces a completion for the given system and user messages,
	// bounded by maxTokens.
	Generate(ctx context.Context, system, user string, maxTokens int) (string, error)

	// Model returns the configured model name.
	Model() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
