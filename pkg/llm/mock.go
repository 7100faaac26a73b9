package llm

import "context"

// MockClient is a configurable mock for testing generation-dependent code.
// Set GenerateFunc to control behavior; calls are counted for verification.
type MockClient struct {
	// GenerateFunc is called when Generate is invoked.
	// If nil, returns an empty string and nil error.
	GenerateFunc func(ctx context.Context, system, user string, maxTokens int) (string, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	GenerateCalls int
	LastSystem    string
	LastUser      string
}

// NewMockClient creates a mock with defaults.
func NewMockClient() *MockClient {
	return &MockClient{ModelName: "mock-model"}
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, system, user string, maxTokens int) (string, error) {
	m.GenerateCalls++
	m.LastSystem = system
	m.LastUser = user
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, user, maxTokens)
	}
	return "", nil
}

// Model implements Client.
func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}
