package apperrors

import "errors"

var (
	// Scope errors. Surfaced before a Turn is created.
	ErrUnknownTable = errors.New("unknown table")
	ErrEmptyScope   = errors.New("empty scope")
	ErrNoScope      = errors.New("no scope configured for session")

	// Synthesis errors.
	ErrUnparseableResponse = errors.New("unparseable response")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// Execution errors.
	ErrExecutionTimeout = errors.New("timeout")

	// Interpretation errors. Non-fatal: the Turn keeps its raw results.
	ErrInterpretationUnavailable = errors.New("interpretation unavailable")

	ErrTurnNotFound = errors.New("turn not found")
)
