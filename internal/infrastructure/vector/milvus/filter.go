package milvus

import (
	"fmt"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
)

// CompileFilter renders a predicate tree as a Milvus boolean expression.
// A nil predicate compiles to the empty string, which matches everything.
func CompileFilter(p domain.Predicate) string {
	switch pred := p.(type) {
	case nil:
		return ""
	case domain.EqPredicate:
		return fmt.Sprintf("%s == %s", pred.Field, quote(pred.Value))
	case domain.AndPredicate:
		return joinClauses(pred.Preds, " && ")
	case domain.OrPredicate:
		return joinClauses(pred.Preds, " || ")
	default:
		return ""
	}
}

func joinClauses(preds []domain.Predicate, sep string) string {
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		if clause := CompileFilter(p); clause != "" {
			clauses = append(clauses, clause)
		}
	}
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	default:
		return "(" + strings.Join(clauses, sep) + ")"
	}
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
