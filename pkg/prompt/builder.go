// Package prompt renders scope, question, and conversational context into
// the payload sent to the generation capability.
package prompt

import (
	"fmt"
	"strings"

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Prompt is the opaque payload handed to the generation capability.
type Prompt struct {
	System string
	User   string
}

// Builder renders prompts. Rendering is deterministic: identical scope,
// question, and history always produce byte-identical payloads. No clocks,
// no randomness, no map iteration order leaks into the output.
type Builder struct {
	rowCap       int
	contextTurns int
}

// NewBuilder creates a builder. contextTurns bounds how many prior turns
// are included; rowCap is quoted in the instructions so the model aims for
// bounded results before the validator enforces them.
func NewBuilder(rowCap, contextTurns int) *Builder {
	return &Builder{rowCap: rowCap, contextTurns: contextTurns}
}

// ContextTurns returns how many prior turns this builder includes.
func (b *Builder) ContextTurns() int {
	return b.contextTurns
}

// BuildSynthesis renders the prompt for SQL generation. history must be
// ordered oldest-first; only the most recent contextTurns entries are used.
// previousError, when non-empty, is the engine error from a failed earlier
// attempt the user chose to retry.
func (b *Builder) BuildSynthesis(scope *models.Scope, question string, history []*models.Turn, previousError string) Prompt {
	var sb strings.Builder

	sb.WriteString("# Database Schema\n\n")
	sb.WriteString("You may only reference the tables listed here.\n\n")
	for _, table := range scope.Tables {
		writeTable(&sb, table)
	}

	if len(history) > b.contextTurns {
		history = history[len(history)-b.contextTurns:]
	}
	if len(history) > 0 {
		sb.WriteString("# Conversation So Far\n\n")
		for _, turn := range history {
			sb.WriteString(fmt.Sprintf("Question: %s\n", turn.Question))
			if turn.Candidate != nil && turn.Candidate.SQL != "" {
				sb.WriteString(fmt.Sprintf("SQL: %s\n", turn.Candidate.SQL))
			}
			if turn.Status != models.TurnCompleted {
				sb.WriteString(fmt.Sprintf("Result: %s\n", turn.Status))
				if turn.ErrorMessage != "" {
					sb.WriteString(fmt.Sprintf("Error: %s\n", turn.ErrorMessage))
				}
			}
			sb.WriteString("\n")
		}
	}

	if previousError != "" {
		sb.WriteString("# Previous Attempt Failed\n\n")
		sb.WriteString(previousError)
		sb.WriteString("\n\nFix the query to avoid this error.\n\n")
	}

	sb.WriteString("# Question\n\n")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n")

	return Prompt{
		System: b.synthesisSystem(),
		User:   sb.String(),
	}
}

func (b *Builder) synthesisSystem() string {
	return fmt.Sprintf(`You convert plain-English questions into a single SQL SELECT statement.

Rules:
- Output ONLY the SQL statement. No markdown fences, no commentary.
- A single SELECT statement. Never INSERT, UPDATE, DELETE, or DDL.
- Reference only the tables and columns in the provided schema.
- Add LIMIT %d unless the question asks for fewer rows.`, b.rowCap)
}

// BuildInterpretation renders the prompt for result summarization. The
// outcome's rows are already bounded by the row cap; at most sampleLimit
// rows are serialized to keep the payload small.
func (b *Builder) BuildInterpretation(question, executedSQL string, outcome *models.ExecutionOutcome) Prompt {
	const sampleLimit = 20

	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nSQL executed:\n")
	sb.WriteString(executedSQL)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Result: %d rows", outcome.RowCount))
	if outcome.Truncated {
		sb.WriteString(" (truncated at the row cap)")
	}
	sb.WriteString("\n")

	if len(outcome.Columns) > 0 {
		names := make([]string, len(outcome.Columns))
		for i, c := range outcome.Columns {
			names[i] = c.Name
		}
		sb.WriteString("Columns: ")
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString("\n")

		rows := outcome.Rows
		if len(rows) > sampleLimit {
			rows = rows[:sampleLimit]
		}
		for _, row := range rows {
			cells := make([]string, len(outcome.Columns))
			for i, c := range outcome.Columns {
				cells[i] = renderValue(row[c.Name])
			}
			sb.WriteString(strings.Join(cells, " | "))
			sb.WriteString("\n")
		}
	}

	return Prompt{
		System: "You summarize SQL query results for a non-technical reader. " +
			"Answer the original question in one or two plain sentences. " +
			"Do not mention SQL.",
		User: sb.String(),
	}
}

func writeTable(sb *strings.Builder, table models.CatalogTable) {
	sb.WriteString(fmt.Sprintf("## %s\n", table.Name))
	if table.RowEstimate > 0 {
		sb.WriteString(fmt.Sprintf("~%d rows\n", table.RowEstimate))
	}
	for _, col := range table.Columns {
		sb.WriteString(fmt.Sprintf("- %s (%s)", col.Name, col.DataType))
		if col.IsPrimary {
			sb.WriteString(" [PK]")
		}
		if col.ForeignKeyRef != "" {
			sb.WriteString(" [FK -> " + col.ForeignKeyRef + "]")
		}
		sb.WriteString("\n")
	}
	if len(table.SampleRows) > 0 {
		sb.WriteString("Sample rows:\n")
		for _, row := range table.SampleRows {
			sb.WriteString("  ")
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
}

func renderValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
