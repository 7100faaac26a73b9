package synth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/llm"
	"github.com/plainquery/plainquery-engine/pkg/models"
	"github.com/plainquery/plainquery-engine/pkg/prompt"
	"github.com/plainquery/plainquery-engine/pkg/retry"
)

func fastRetry(attempts int) *retry.Config {
	return &retry.Config{
		Attempts:     attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

func testSynthesizer(client *llm.MockClient, attempts int) *Synthesizer {
	builder := prompt.NewBuilder(1000, 5)
	return NewSynthesizer(client, builder, fastRetry(attempts), 2048, zap.NewNop())
}

func synthScope() *models.Scope {
	return models.NewScope(uuid.New(), []models.CatalogTable{
		{Name: "orders", Columns: []models.CatalogColumn{
			{Name: "id", DataType: "integer", IsPrimary: true},
			{Name: "total", DataType: "numeric"},
		}},
	}, time.Now())
}

func TestSynthesizeExtractsFencedSQL(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "Here you go:\n```sql\nSELECT id, total FROM orders LIMIT 10\n```\n", nil
	}
	s := testSynthesizer(client, 3)

	candidate, attempts, err := s.Synthesize(context.Background(), synthScope(), "show orders", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, attempts)
	assert.Equal(t, models.SourceModel, candidate.Source)
	assert.Equal(t, "SELECT id, total FROM orders LIMIT 10", candidate.SQL)
	assert.Equal(t, models.StatementSelect, candidate.Kind)
	assert.Equal(t, []string{"orders"}, candidate.ReferencedTables)
	assert.Contains(t, candidate.RawResponse, "Here you go")
}

func TestSynthesizeExtractsBareSQL(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "SELECT total FROM orders;", nil
	}
	s := testSynthesizer(client, 3)

	candidate, _, err := s.Synthesize(context.Background(), synthScope(), "totals", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT total FROM orders", candidate.SQL)
}

func TestSynthesizeKeepsWriteStatementForValidator(t *testing.T) {
	// A parseable non-SELECT is not a synthesis failure. It becomes a
	// candidate with kind UNKNOWN and the validator rejects it, so the
	// refusal lands in the ledger instead of being silently retried away.
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "```sql\nDELETE FROM orders\n```", nil
	}
	s := testSynthesizer(client, 3)

	candidate, attempts, err := s.Synthesize(context.Background(), synthScope(), "clear orders", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, models.StatementUnknown, candidate.Kind)
}

func TestSynthesizeRetriesUnparseableWithFeedback(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		if client.GenerateCalls == 1 {
			return "I cannot answer that question.", nil
		}
		return "SELECT id FROM orders", nil
	}
	s := testSynthesizer(client, 3)

	candidate, attempts, err := s.Synthesize(context.Background(), synthScope(), "show orders", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, "SELECT id FROM orders", candidate.SQL)
	assert.Contains(t, client.LastUser, "Previous Attempt Failed")
	assert.Contains(t, client.LastUser, "no SQL statement found")
}

func TestSynthesizeExhaustsAttempts(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "no query here", nil
	}
	s := testSynthesizer(client, 3)

	_, attempts, err := s.Synthesize(context.Background(), synthScope(), "show orders", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnparseableResponse)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, client.GenerateCalls)
}

func TestSynthesizeNonRetryableProviderError(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "", &llm.Error{Type: llm.ErrorTypeAuth, Message: "authentication failed", Retryable: false}
	}
	s := testSynthesizer(client, 3)

	_, attempts, err := s.Synthesize(context.Background(), synthScope(), "show orders", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, client.GenerateCalls)
}

func TestSynthesizeRetriesTransientProviderError(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		if client.GenerateCalls == 1 {
			return "", &llm.Error{Type: llm.ErrorTypeEndpoint, Message: "server error", Retryable: true}
		}
		return "SELECT id FROM orders", nil
	}
	s := testSynthesizer(client, 3)

	candidate, attempts, err := s.Synthesize(context.Background(), synthScope(), "show orders", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NotNil(t, candidate)
}

func TestSynthesizeHonorsCancellation(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "", &llm.Error{Type: llm.ErrorTypeEndpoint, Message: "server error", Retryable: true}
	}
	builder := prompt.NewBuilder(1000, 5)
	s := NewSynthesizer(client, builder, &retry.Config{
		Attempts:     3,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   1.0,
	}, 2048, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Synthesize(ctx, synthScope(), "show orders", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
