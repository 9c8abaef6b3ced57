package orm

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

// Criterion is one field predicate of a find clause. It is rendered
// into FileMaker find syntax when the query executes, once the field's
// codec and column are known.
type Criterion struct {
	field  string
	render func(f boundField) (string, error)
}

// operandEscaper backslash-escapes the characters FileMaker treats as
// find operators inside a query value.
var operandEscaper = strings.NewReplacer(
	"@", `\@`,
	"*", `\*`,
	"#", `\#`,
	"?", `\?`,
	"!", `\!`,
	"=", `\=`,
	"<", `\<`,
	">", `\>`,
	`"`, `\"`,
)

// operandText encodes v through the field's codec and renders the wire
// value as escaped find-request text.
func operandText(f boundField, v any) (string, error) {
	wire, err := f.codec.Encode(f.column, v)
	if err != nil {
		return "", err
	}
	switch w := wire.(type) {
	case string:
		return operandEscaper.Replace(w), nil
	case int64:
		return strconv.FormatInt(w, 10), nil
	case float64:
		return strconv.FormatFloat(w, 'f', -1, 64), nil
	default:
		return "", core.Validationf("cannot render %T as a find operand", wire)
	}
}

// Exact matches records whose field equals v.
func Exact(fieldName string, v any) Criterion {
	return wrapped(fieldName, v, "==", "")
}

// Prefix matches records whose field starts with v.
func Prefix(fieldName string, v any) Criterion {
	return wrapped(fieldName, v, "==", "*")
}

// Suffix matches records whose field ends with v.
func Suffix(fieldName string, v any) Criterion {
	return wrapped(fieldName, v, "==*", "")
}

// Contains matches records whose field contains v.
func Contains(fieldName string, v any) Criterion {
	return wrapped(fieldName, v, "==*", "*")
}

// GT matches records whose field is greater than v.
func GT(fieldName string, v any) Criterion { return wrapped(fieldName, v, ">", "") }

// GTE matches records whose field is greater than or equal to v.
func GTE(fieldName string, v any) Criterion { return wrapped(fieldName, v, ">=", "") }

// LT matches records whose field is less than v.
func LT(fieldName string, v any) Criterion { return wrapped(fieldName, v, "<", "") }

// LTE matches records whose field is less than or equal to v.
func LTE(fieldName string, v any) Criterion { return wrapped(fieldName, v, "<=", "") }

func wrapped(fieldName string, v any, before, after string) Criterion {
	return Criterion{field: fieldName, render: func(f boundField) (string, error) {
		t, err := operandText(f, v)
		if err != nil {
			return "", err
		}
		return before + t + after, nil
	}}
}

// Within matches records whose field lies in the inclusive range lo..hi.
func Within(fieldName string, lo, hi any) Criterion {
	return Criterion{field: fieldName, render: func(f boundField) (string, error) {
		l, err := operandText(f, lo)
		if err != nil {
			return "", err
		}
		h, err := operandText(f, hi)
		if err != nil {
			return "", err
		}
		return l + "..." + h, nil
	}}
}

// Empty matches records whose field holds no value.
func Empty(fieldName string) Criterion { return literal(fieldName, "==") }

// Blank matches records whose field is blank.
func Blank(fieldName string) Criterion { return literal(fieldName, "=") }

// NotEmpty matches records whose field holds any value.
func NotEmpty(fieldName string) Criterion { return literal(fieldName, "*") }

// Raw passes expr through as FileMaker find syntax, with no encoding
// and no escaping.
func Raw(fieldName, expr string) Criterion { return literal(fieldName, expr) }

func literal(fieldName, expr string) Criterion {
	return Criterion{field: fieldName, render: func(boundField) (string, error) {
		return expr, nil
	}}
}

// Term resolves the field__operator shorthand into a Criterion:
//
//	Term("age__gte", 30)             GTE("age", 30)
//	Term("name__startswith", "Bo")   Prefix("name", "Bo")
//	Term("score__range", []any{1,5}) Within("score", 1, 5)
//	Term("name", "Bob")              Exact("name", "Bob")
//
// Operators: raw, exact, startswith, endswith, contains, gt, gte, lt,
// lte, range, empty, notempty, blank. The value is ignored for empty,
// notempty and blank. An unknown operator or a malformed operand is
// reported when the query executes, like every other criteria error.
func Term(key string, value any) Criterion {
	fieldName, op := key, "exact"
	if i := strings.Index(key, "__"); i >= 0 {
		fieldName, op = key[:i], key[i+2:]
	}
	switch op {
	case "exact":
		return Exact(fieldName, value)
	case "raw":
		expr, ok := value.(string)
		if !ok {
			return failed(fieldName, core.Validationf("raw operator needs a string operand, got %T", value))
		}
		return Raw(fieldName, expr)
	case "startswith":
		return Prefix(fieldName, value)
	case "endswith":
		return Suffix(fieldName, value)
	case "contains":
		return Contains(fieldName, value)
	case "gt":
		return GT(fieldName, value)
	case "gte":
		return GTE(fieldName, value)
	case "lt":
		return LT(fieldName, value)
	case "lte":
		return LTE(fieldName, value)
	case "range":
		bounds, ok := value.([]any)
		if !ok || len(bounds) != 2 {
			return failed(fieldName, core.Validationf("range operator needs exactly two bounds, got %v", value))
		}
		return Within(fieldName, bounds[0], bounds[1])
	case "empty":
		return Empty(fieldName)
	case "notempty":
		return NotEmpty(fieldName)
	case "blank":
		return Blank(fieldName)
	default:
		return failed(fieldName, core.Validationf("unknown criteria operator %q", op))
	}
}

func failed(fieldName string, err error) Criterion {
	return Criterion{field: fieldName, render: func(boundField) (string, error) {
		return "", err
	}}
}
