// Package synth turns a natural-language question into a candidate SQL
// statement using an LLM provider. Its output is always untrusted: every
// candidate goes through safety validation before anything touches a
// database.
package synth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/llm"
	"github.com/plainquery/plainquery-engine/pkg/models"
	"github.com/plainquery/plainquery-engine/pkg/prompt"
	"github.com/plainquery/plainquery-engine/pkg/retry"
	enginesql "github.com/plainquery/plainquery-engine/pkg/sql"
)

var (
	fencedSQLPattern = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	bareSQLPattern   = regexp.MustCompile(`(?is)\b(SELECT\b.*?)(?:;|$)`)
)

// Synthesizer generates candidate queries with bounded retries. A response
// the extractor cannot find a statement in is retried with the failure fed
// back into the next prompt; provider errors retry only when the provider
// marks them transient.
type Synthesizer struct {
	client    llm.Client
	builder   *prompt.Builder
	retryCfg  *retry.Config
	maxTokens int
	logger    *zap.Logger
}

// NewSynthesizer creates a synthesizer on top of the given provider client.
func NewSynthesizer(client llm.Client, builder *prompt.Builder, retryCfg *retry.Config, maxTokens int, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		client:    client,
		builder:   builder,
		retryCfg:  retryCfg,
		maxTokens: maxTokens,
		logger:    logger.Named("synthesizer"),
	}
}

// unparseableResponse marks a model response with no extractable statement.
// It is retryable: the next attempt's prompt carries the failure so the
// model can correct itself.
type unparseableResponse struct {
	reason string
}

func (e *unparseableResponse) Error() string     { return e.reason }
func (e *unparseableResponse) IsRetryable() bool { return true }

// Synthesize produces one candidate query for the question, or fails after
// the configured attempts. The returned attempt count is recorded on the
// turn regardless of outcome.
func (s *Synthesizer) Synthesize(ctx context.Context, scope *models.Scope, question string, history []*models.Turn) (*models.CandidateQuery, int, error) {
	previousError := ""

	candidate, attempts, err := retry.DoWithResult(ctx, s.retryCfg, func() (*models.CandidateQuery, error) {
		p := s.builder.BuildSynthesis(scope, question, history, previousError)

		raw, genErr := s.client.Generate(ctx, p.System, p.User, s.maxTokens)
		if genErr != nil {
			s.logger.Warn("generation failed",
				zap.String("model", s.client.Model()),
				zap.Error(genErr))
			return nil, genErr
		}

		c, extractErr := s.extract(raw)
		if extractErr != nil {
			previousError = extractErr.Error()
			s.logger.Warn("response had no usable statement",
				zap.String("model", s.client.Model()),
				zap.String("reason", previousError))
			return nil, extractErr
		}
		return c, nil
	})
	if err != nil {
		return nil, attempts, s.classifyFailure(err, attempts)
	}

	s.logger.Info("candidate synthesized",
		zap.String("candidate_id", candidate.ID.String()),
		zap.Int("attempts", attempts),
		zap.Strings("tables", candidate.ReferencedTables))
	return candidate, attempts, nil
}

// extract pulls the SQL statement out of a raw model response. Fenced code
// blocks win; otherwise the first SELECT-looking span is taken. The result
// is parsed so the candidate's kind and table references come from the AST,
// not from the response text.
func (s *Synthesizer) extract(raw string) (*models.CandidateQuery, error) {
	sqlText := ""
	if m := fencedSQLPattern.FindStringSubmatch(raw); m != nil {
		sqlText = strings.TrimSpace(m[1])
	} else if m := bareSQLPattern.FindStringSubmatch(raw); m != nil {
		sqlText = strings.TrimSpace(m[1])
	}
	if sqlText == "" {
		return nil, &unparseableResponse{reason: "no SQL statement found in response"}
	}

	candidate := &models.CandidateQuery{
		ID:          uuid.New(),
		Source:      models.SourceModel,
		RawResponse: raw,
		SQL:         sqlText,
		Kind:        models.StatementUnknown,
	}

	analysis, err := enginesql.Analyze(sqlText)
	if err != nil {
		return nil, &unparseableResponse{reason: fmt.Sprintf("statement does not parse: %v", err)}
	}
	candidate.Kind = analysis.Kind
	candidate.ReferencedTables = analysis.ReferencedTableNames()
	return candidate, nil
}

func (s *Synthesizer) classifyFailure(err error, attempts int) error {
	var unparseable *unparseableResponse
	if errors.As(err, &unparseable) {
		return fmt.Errorf("%w after %d attempts: %s", apperrors.ErrUnparseableResponse, attempts, unparseable.reason)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUpstreamUnavailable, err)
}
