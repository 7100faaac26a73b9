// Package interpret produces the plain-language summary of an executed
// result set. Summarization is best-effort: when the provider is down the
// turn still completes with its result rows and no summary.
package interpret

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/llm"
	"github.com/plainquery/plainquery-engine/pkg/models"
	"github.com/plainquery/plainquery-engine/pkg/prompt"
)

// Interpreter summarizes execution outcomes for the asking user.
type Interpreter struct {
	client    llm.Client
	builder   *prompt.Builder
	maxTokens int
	logger    *zap.Logger
}

// NewInterpreter creates an interpreter on top of the given provider client.
func NewInterpreter(client llm.Client, builder *prompt.Builder, maxTokens int, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		client:    client,
		builder:   builder,
		maxTokens: maxTokens,
		logger:    logger.Named("interpreter"),
	}
}

// Summarize answers the original question from the outcome. An empty result
// set is summarized without a provider round trip. Provider failures return
// apperrors.ErrInterpretationUnavailable; callers treat that as non-fatal.
func (i *Interpreter) Summarize(ctx context.Context, question, executedSQL string, outcome *models.ExecutionOutcome) (string, error) {
	if outcome.RowCount == 0 {
		return "No matching rows were found.", nil
	}

	p := i.builder.BuildInterpretation(question, executedSQL, outcome)
	summary, err := i.client.Generate(ctx, p.System, p.User, i.maxTokens)
	if err != nil {
		i.logger.Warn("summarization failed",
			zap.String("model", i.client.Model()),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", apperrors.ErrInterpretationUnavailable, err)
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("%w: empty response", apperrors.ErrInterpretationUnavailable)
	}
	return summary, nil
}
