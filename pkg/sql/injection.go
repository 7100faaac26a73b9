package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionHit records a string literal that libinjection flagged.
type InjectionHit struct {
	Literal     string
	Fingerprint string
}

// ScreenLiterals runs libinjection over every string literal in the
// analysis. The AST rules are the primary guarantee; this screen exists
// because parsers have gaps, and a literal that itself scans as SQL is a
// strong signal the statement was constructed to smuggle something past
// one of them.
func ScreenLiterals(analysis *Analysis) []InjectionHit {
	var hits []InjectionHit
	for _, lit := range analysis.StringLiterals {
		if isSQLi, fingerprint := libinjection.IsSQLi(lit); isSQLi {
			hits = append(hits, InjectionHit{
				Literal:     lit,
				Fingerprint: fingerprint,
			})
		}
	}
	return hits
}

func (v *Validator) hasSuspiciousLiteral(analysis *Analysis) bool {
	return len(ScreenLiterals(analysis)) > 0
}
