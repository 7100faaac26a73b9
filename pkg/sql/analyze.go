// Package sql provides static analysis and safety validation of candidate
// SQL statements. Everything here treats the statement text as untrusted:
// classification is derived by parsing, never from labels the generation
// capability claims about its own output.
//
// Parsing uses the PostgreSQL grammar (libpg_query), the same grammar the
// primary execution engine speaks, so a statement that validates here is a
// statement the engine will accept.
package sql

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// TableRef is one table referenced by a statement, including references
// inside subqueries and CTE bodies.
type TableRef struct {
	Qualifier string // schema qualifier, empty for bare names
	Name      string
	Alias     string
}

// String returns the qualified table name.
func (r TableRef) String() string {
	if r.Qualifier != "" {
		return r.Qualifier + "." + r.Name
	}
	return r.Name
}

// Analysis is the parsed view of a candidate statement.
type Analysis struct {
	Kind models.StatementKind
	// MultiStatement is set when the text contains more than one statement.
	// No further analysis is attempted: a batch is never read-only.
	MultiStatement bool

	// Tables are real table references. CTE names are resolved against the
	// statement's WITH clause and excluded.
	Tables []TableRef
	// Columns are all column identifiers referenced anywhere in the
	// statement, lowercased.
	Columns []string
	// SelectAliases are output aliases (SELECT expr AS alias), lowercased.
	// ORDER BY may legally reference these, so column scoping allows them.
	SelectAliases []string
	// StringLiterals are the string values embedded in the statement,
	// screened separately for injection patterns.
	StringLiterals []string
	HasSubquery    bool

	// source is the trimmed statement text. Node locations in the parse
	// tree are byte offsets into it.
	source string
	tree   *pg_query.ParseResult
	sel    *pg_query.SelectStmt
}

// Analyze parses the statement text. It returns an error only when the text
// cannot be parsed at all; a multi-statement batch parses into an Analysis
// with MultiStatement set and Kind UNKNOWN.
func Analyze(sqlText string) (*Analysis, error) {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil, fmt.Errorf("empty statement")
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse statement: %w", err)
	}
	if len(tree.Stmts) == 0 {
		return nil, fmt.Errorf("empty statement")
	}
	if len(tree.Stmts) > 1 {
		return &Analysis{MultiStatement: true, Kind: models.StatementUnknown}, nil
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return nil, fmt.Errorf("empty statement")
	}

	a := &Analysis{
		Kind:   models.StatementUnknown,
		source: trimmed,
		tree:   tree,
	}
	if sel := stmt.GetSelectStmt(); sel != nil && isPlainSelect(sel) {
		a.Kind = models.StatementSelect
		a.sel = sel
	}
	a.collect(stmt)
	return a, nil
}

// isPlainSelect reports whether the node is the one read-only form the
// pipeline executes: a single SELECT with no set operation, no SELECT INTO
// target, and no row locking.
func isPlainSelect(sel *pg_query.SelectStmt) bool {
	return sel.Op == pg_query.SetOperation_SETOP_NONE &&
		sel.IntoClause == nil &&
		len(sel.LockingClause) == 0
}

func (a *Analysis) collect(stmt *pg_query.Node) {
	cteNames := make(map[string]struct{})
	var tables []TableRef

	walk(stmt.ProtoReflect(), func(msg protoreflect.Message) {
		switch n := msg.Interface().(type) {
		case *pg_query.RangeVar:
			ref := TableRef{
				Qualifier: strings.ToLower(n.Schemaname),
				Name:      strings.ToLower(n.Relname),
			}
			if n.Catalogname != "" {
				ref.Qualifier = strings.ToLower(n.Catalogname) + "." + ref.Qualifier
			}
			if n.Alias != nil {
				ref.Alias = strings.ToLower(n.Alias.Aliasname)
			}
			tables = append(tables, ref)
		case *pg_query.ColumnRef:
			// The last field is the column; leading fields qualify it with
			// a table or alias name and are not column references.
			if len(n.Fields) > 0 {
				if s := n.Fields[len(n.Fields)-1].GetString_(); s != nil {
					a.Columns = append(a.Columns, strings.ToLower(s.Sval))
				}
			}
		case *pg_query.ResTarget:
			if n.Name != "" {
				a.SelectAliases = append(a.SelectAliases, strings.ToLower(n.Name))
			}
		case *pg_query.A_Const:
			if s := n.GetSval(); s != nil {
				a.StringLiterals = append(a.StringLiterals, s.Sval)
			}
		case *pg_query.CommonTableExpr:
			cteNames[strings.ToLower(n.Ctename)] = struct{}{}
		case *pg_query.SubLink, *pg_query.RangeSubselect:
			a.HasSubquery = true
		}
	})

	// A bare reference to a WITH clause name is not a table reference.
	for _, ref := range tables {
		if ref.Qualifier == "" {
			if _, cte := cteNames[ref.Name]; cte {
				continue
			}
		}
		a.Tables = append(a.Tables, ref)
	}
}

// walk visits every message in the parse tree, depth first, children in
// field-number order so collection order is deterministic.
func walk(msg protoreflect.Message, visit func(protoreflect.Message)) {
	visit(msg)
	fields := msg.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Kind() != protoreflect.MessageKind || !msg.Has(fd) {
			continue
		}
		if fd.IsList() {
			list := msg.Get(fd).List()
			for j := 0; j < list.Len(); j++ {
				walk(list.Get(j).Message(), visit)
			}
			continue
		}
		walk(msg.Get(fd).Message(), visit)
	}
}

// ReferencedTableNames returns the distinct qualified table names, in
// first-reference order. This is what gets recorded on the CandidateQuery.
func (a *Analysis) ReferencedTableNames() []string {
	seen := make(map[string]struct{}, len(a.Tables))
	var names []string
	for _, t := range a.Tables {
		name := t.String()
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
