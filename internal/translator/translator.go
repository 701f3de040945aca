// Package translator turns a selection set into a parameterized query
// against the CRIS table.
package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/crisgenomics/cris-query/internal/domain"
)

var (
	// ErrInvalidOperator is returned for a range operator outside the allow-list.
	ErrInvalidOperator = errors.New("invalid comparison operator")

	// ErrInvalidValue is returned for a range value that is not a number.
	ErrInvalidValue = errors.New("invalid numeric value")

	// ErrInvalidSelection is returned for a selection of the wrong shape.
	ErrInvalidSelection = errors.New("invalid selection")
)

// Range values are bounded so rendering a value stays cheap.
const (
	maxValueLen      = 64
	maxValueExponent = 64
)

// Operators accepted for range filters.
var allowedOperators = map[string]bool{
	"=":  true,
	"<":  true,
	"<=": true,
	">":  true,
	">=": true,
	"!=": true,
}

// Query is a translated selection set.
type Query struct {
	// SQL uses ? placeholders, one per element of Args.
	SQL   string
	Args  []any
	Limit int
}

// Translate builds the query for selections. Equality fields come first,
// then range fields, each group in declaration order, so the output never
// depends on map iteration order. A limit <= 0 means domain.DefaultLimit.
func Translate(selections domain.Selections, limit int) (Query, error) {
	if limit <= 0 {
		limit = domain.DefaultLimit
	}

	var conds []squirrel.Sqlizer

	for _, field := range domain.EqualityFields {
		value, ok, err := selections.Equality(field)
		if err != nil {
			return Query{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
		}
		if ok {
			conds = append(conds, squirrel.Eq{field: value})
		}
	}

	for _, field := range domain.RangeFields {
		filter, ok, err := selections.Range(field)
		if err != nil {
			return Query{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
		}
		if !ok {
			continue
		}

		op := filter.Operator
		if op == "" {
			op = "="
		}
		if !allowedOperators[op] {
			return Query{}, fmt.Errorf("%w %q for %s", ErrInvalidOperator, op, field)
		}
		if filter.Value == "" {
			continue
		}

		value, err := parseValue(filter.Value)
		if err != nil {
			return Query{}, fmt.Errorf("%w for %s: %v", ErrInvalidValue, field, err)
		}
		// field and op both come from fixed sets; only the value is bound.
		conds = append(conds, squirrel.Expr(field+" "+op+" ?", value))
	}

	q := squirrel.Select("*").From(domain.Table)
	if len(conds) == 0 {
		q = q.Where("1=1")
	}
	for _, c := range conds {
		q = q.Where(c)
	}
	q = q.Limit(uint64(limit))

	sql, args, err := q.ToSql()
	if err != nil {
		return Query{}, fmt.Errorf("build query: %w", err)
	}

	return Query{SQL: sql, Args: args, Limit: limit}, nil
}

// parseValue parses a range value as a decimal of bounded size.
func parseValue(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxValueLen {
		return decimal.Decimal{}, fmt.Errorf("longer than %d characters", maxValueLen)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q is not a number", raw)
	}
	if exp := value.Exponent(); exp > maxValueExponent || exp < -maxValueExponent {
		return decimal.Decimal{}, fmt.Errorf("%q is out of range", raw)
	}
	return value, nil
}

// String renders the query with its arguments inlined as SQL literals, for
// display only. Strings are quoted with embedded quotes doubled.
func (q Query) String() string {
	var b strings.Builder
	b.Grow(len(q.SQL) + 16*len(q.Args))

	argIdx := 0
	for i := 0; i < len(q.SQL); i++ {
		ch := q.SQL[i]
		if ch != '?' || argIdx >= len(q.Args) {
			b.WriteByte(ch)
			continue
		}
		b.WriteString(literal(q.Args[argIdx]))
		argIdx++
	}
	return b.String()
}

// Parameters returns the bound arguments in a JSON friendly form.
func (q Query) Parameters() []any {
	params := make([]any, len(q.Args))
	for i, a := range q.Args {
		if d, ok := a.(decimal.Decimal); ok {
			params[i] = d.String()
			continue
		}
		params[i] = a
	}
	return params
}

func literal(arg any) string {
	switch v := arg.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case decimal.Decimal:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
