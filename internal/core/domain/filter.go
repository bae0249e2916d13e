package domain

// Filter field names understood by the vector index adapter.
const (
	FilterFieldEntity      = "ticker"
	FilterFieldFiscalYear  = "fiscal_year"
	FilterFieldQuarter     = "fiscal_quarter"
	FilterFieldContentType = "content_type"
)

// Predicate is a boolean filter tree over index metadata fields. The core
// builds predicates; only the index adapter knows how to compile them.
type Predicate interface {
	isPredicate()
}

type EqPredicate struct {
	Field string
	Value string
}

type AndPredicate struct {
	Preds []Predicate
}

type OrPredicate struct {
	Preds []Predicate
}

func (EqPredicate) isPredicate()  {}
func (AndPredicate) isPredicate() {}
func (OrPredicate) isPredicate() {}

func Eq(field, value string) Predicate {
	return EqPredicate{Field: field, Value: value}
}

// And conjoins predicates, dropping nils. Zero surviving operands yield nil
// (match-all); a single operand is returned unwrapped.
func And(preds ...Predicate) Predicate {
	kept := compactPredicates(preds)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return AndPredicate{Preds: kept}
	}
}

func Or(preds ...Predicate) Predicate {
	kept := compactPredicates(preds)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return OrPredicate{Preds: kept}
	}
}

func compactPredicates(preds []Predicate) []Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return kept
}
