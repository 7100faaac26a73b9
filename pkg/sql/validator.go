package sql

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Dialect selects how the sanitized statement is rendered for the engine
// that will execute it.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectSQLServer Dialect = "sqlserver"
)

// systemSchemas are catalog/metadata namespaces a generated query must never
// reach: enumerating them would let a statement discover tables outside its
// scope as a side channel.
var systemSchemas = map[string]struct{}{
	"information_schema": {},
	"pg_catalog":         {},
	"performance_schema": {},
	"mysql":              {},
	"sys":                {},
}

// Validator is the trust boundary between generated text and the database.
// It decides, by static analysis alone, whether a candidate statement may
// execute, and produces the sanitized statement that actually runs.
type Validator struct {
	dialect Dialect
	rowCap  int
}

// NewValidator creates a validator that bounds results at rowCap rows and
// renders sanitized statements for the given engine dialect.
func NewValidator(dialect Dialect, rowCap int) *Validator {
	return &Validator{dialect: dialect, rowCap: rowCap}
}

// Validate analyzes the candidate against the scope active when its turn was
// created. Fails closed: anything unparseable is rejected.
//
// Rule order: unparseable and non-read-only are fatal and stop evaluation;
// scope, metadata, and literal rules are all collected so the user sees
// everything wrong at once.
func (v *Validator) Validate(candidate *models.CandidateQuery, scope *models.Scope) *models.Verdict {
	analysis, err := Analyze(candidate.SQL)
	if err != nil {
		return &models.Verdict{Pass: false, Rules: []string{models.RuleUnparseable}}
	}

	if analysis.MultiStatement || analysis.Kind != models.StatementSelect {
		return &models.Verdict{Pass: false, Rules: []string{models.RuleNonReadOnly}}
	}

	var rules []string
	if v.violatesScope(analysis, scope) {
		rules = append(rules, models.RuleScopeViolation)
	}
	if v.escapesToMetadata(analysis) {
		rules = append(rules, models.RuleMetadataEscape)
	}
	if v.hasSuspiciousLiteral(analysis) {
		rules = append(rules, models.RuleSuspiciousLiteral)
	}

	if len(rules) > 0 {
		return &models.Verdict{Pass: false, Rules: rules}
	}

	var sanitized string
	var injected bool
	switch v.dialect {
	case DialectSQLServer:
		sanitized, injected = v.enforceLimitSQLServer(analysis)
	default:
		sanitized, injected, err = v.enforceLimitPostgres(analysis)
		if err != nil {
			return &models.Verdict{Pass: false, Rules: []string{models.RuleUnparseable}}
		}
	}
	return &models.Verdict{
		Pass:          true,
		SanitizedSQL:  sanitized,
		LimitInjected: injected,
	}
}

func (v *Validator) violatesScope(analysis *Analysis, scope *models.Scope) bool {
	for _, ref := range analysis.Tables {
		switch ref.Qualifier {
		case "", "public", "dbo":
			// Default-schema qualifiers are transparent; the scope is a
			// flat namespace over the default schema.
			if !scope.ContainsTable(ref.Name) {
				return true
			}
		default:
			// System schemas are handled by the metadata rule; any other
			// qualifier reaches outside the scope's namespace.
			if _, system := systemSchemas[ref.Qualifier]; !system {
				return true
			}
		}
	}

	// Column-level scoping: every referenced identifier must exist in some
	// in-scope table or be an output alias. Table aliases used as column
	// qualifiers were already stripped during analysis.
	aliases := make(map[string]struct{}, len(analysis.SelectAliases))
	for _, a := range analysis.SelectAliases {
		aliases[a] = struct{}{}
	}
	for _, col := range analysis.Columns {
		if scope.ContainsColumn(col) {
			continue
		}
		if _, ok := aliases[col]; ok {
			continue
		}
		return true
	}
	return false
}

func (v *Validator) escapesToMetadata(analysis *Analysis) bool {
	for _, ref := range analysis.Tables {
		if _, system := systemSchemas[ref.Qualifier]; system {
			return true
		}
		if strings.HasPrefix(ref.Name, "pg_") {
			return true
		}
	}
	return false
}

// enforceLimitPostgres injects a row bound when the statement has none and
// replaces any bound above the cap. The bound is rowCap+1, one past what the
// sandbox returns, so the sandbox can observe that a result was truncated.
// The sanitized statement is deparsed through the PostgreSQL grammar, which
// keeps quoting and literals in the form the engine expects.
func (v *Validator) enforceLimitPostgres(a *Analysis) (string, bool, error) {
	limit, constant := limitValue(a.sel)
	keep := constant && limit <= v.rowCap &&
		a.sel.LimitOption != pg_query.LimitOption_LIMIT_OPTION_WITH_TIES

	injected := false
	if !keep {
		a.sel.LimitCount = intConstNode(v.rowCap + 1)
		a.sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
		injected = true
	}
	out, err := pg_query.Deparse(a.tree)
	if err != nil {
		return "", false, fmt.Errorf("deparse statement: %w", err)
	}
	return out, injected, nil
}

var selectHead = regexp.MustCompile(`(?i)^\s*SELECT(\s+DISTINCT)?\b`)

// enforceLimitSQLServer rewrites the statement text for T-SQL, which has no
// LIMIT clause: an in-cap LIMIT is translated to TOP, an absent or over-cap
// one becomes TOP (rowCap+1). Statements the rewrite cannot place a TOP into
// (WITH clauses, OFFSET forms) pass through unchanged; the sandbox's scan
// cap still bounds what the user receives.
func (v *Validator) enforceLimitSQLServer(a *Analysis) (string, bool) {
	sel := a.sel
	if sel.WithClause != nil || sel.LimitOffset != nil {
		return a.source, false
	}

	text := a.source
	bound := v.rowCap + 1
	if sel.LimitCount != nil {
		limit, constant := limitValue(sel)
		if !constant {
			return a.source, false
		}
		if limit <= v.rowCap {
			bound = limit
		}
		stripped, ok := removeLimitClause(text, sel.LimitCount)
		if !ok {
			return a.source, false
		}
		text = stripped
	}

	loc := selectHead.FindStringIndex(text)
	if loc == nil {
		return a.source, false
	}
	rewritten := text[:loc[1]] + fmt.Sprintf(" TOP (%d)", bound) + text[loc[1]:]
	return strings.TrimSpace(rewritten), true
}

// limitValue returns the statement's LIMIT count when it is an integer
// constant.
func limitValue(sel *pg_query.SelectStmt) (int, bool) {
	if sel.LimitCount == nil {
		return 0, false
	}
	ac := sel.LimitCount.GetAConst()
	if ac == nil || ac.Isnull {
		return 0, false
	}
	iv := ac.GetIval()
	if iv == nil {
		return 0, false
	}
	return int(iv.Ival), true
}

func intConstNode(n int) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val:      &pg_query.A_Const_Ival{Ival: &pg_query.Integer{Ival: int32(n)}},
		Location: -1,
	}}}
}

// removeLimitClause cuts the LIMIT keyword and its count out of the text,
// located by the count's byte offset in the parse tree.
func removeLimitClause(text string, count *pg_query.Node) (string, bool) {
	ac := count.GetAConst()
	if ac == nil || ac.Location < 0 || int(ac.Location) >= len(text) {
		return "", false
	}
	start := int(ac.Location)

	end := start
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == start {
		return "", false
	}

	kw := start
	for kw > 0 && (text[kw-1] == ' ' || text[kw-1] == '\t' || text[kw-1] == '\n') {
		kw--
	}
	if kw < 5 || !strings.EqualFold(text[kw-5:kw], "limit") {
		return "", false
	}
	return strings.TrimSpace(text[:kw-5] + text[end:]), true
}
