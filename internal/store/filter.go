package store

import sq "github.com/Masterminds/squirrel"

// Op enumerates the supported filter operators. The tagged variant
// replaces value-type sniffing: the operator and operand shape are fixed
// when the filter is constructed.
type Op int

const (
	// OpEq matches rows where the field equals a single value.
	OpEq Op = iota
	// OpIn matches rows where the field is a member of a value list.
	OpIn
	// OpGte matches rows where the field is >= the value.
	OpGte
	// OpLte matches rows where the field is <= the value.
	OpLte
)

// Filter is one predicate of a fetch. Construct via Eq, In, Gte or Lte so
// the operand shape always matches the operator.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Values []string
}

// Eq filters on equality with a single value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In filters on membership in a value list. An empty list matches nothing.
func In(field string, values []string) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Gte filters on field >= value.
func Gte(field string, value any) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

// Lte filters on field <= value.
func Lte(field string, value any) Filter {
	return Filter{Field: field, Op: OpLte, Value: value}
}

// predicate compiles the filter into a squirrel expression. Values always
// become placeholders; only identifiers reach the SQL text.
func (f Filter) predicate() sq.Sqlizer {
	switch f.Op {
	case OpIn:
		return sq.Eq{f.Field: f.Values}
	case OpGte:
		return sq.GtOrEq{f.Field: f.Value}
	case OpLte:
		return sq.LtOrEq{f.Field: f.Value}
	default:
		return sq.Eq{f.Field: f.Value}
	}
}
