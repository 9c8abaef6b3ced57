package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/fmdata/pkg/core"
	"github.com/leapstack-labs/fmdata/pkg/field"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// criteriaOps are the recognized shorthand operator suffixes.
var criteriaOps = map[string]bool{
	"raw": true, "exact": true, "startswith": true, "endswith": true,
	"contains": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"range": true, "empty": true, "notempty": true, "blank": true,
}

// parseCriterion turns one --where expression ("field__op=value") into a
// criterion, coercing the value to the field's wire type. A key without
// an operator suffix matches exactly.
func parseCriterion(model *orm.Model, expr string) (orm.Criterion, error) {
	key, raw, hasValue := strings.Cut(expr, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return orm.Criterion{}, core.Validationf("empty criteria %q, expected field__op=value", expr)
	}

	fieldName, op := key, "exact"
	if i := strings.LastIndex(key, "__"); i >= 0 && criteriaOps[key[i+2:]] {
		fieldName, op = key[:i], key[i+2:]
	}

	column, err := fieldColumn(model, fieldName)
	if err != nil {
		return orm.Criterion{}, err
	}

	switch op {
	case "empty", "notempty", "blank":
		return orm.Term(key, nil), nil
	case "raw":
		return orm.Term(key, raw), nil
	case "range":
		lo, hi, ok := strings.Cut(raw, "...")
		if !ok {
			return orm.Criterion{}, core.Validationf("range criteria %q needs the form lo...hi", expr)
		}
		loV, err := coerceValue(column, lo)
		if err != nil {
			return orm.Criterion{}, err
		}
		hiV, err := coerceValue(column, hi)
		if err != nil {
			return orm.Criterion{}, err
		}
		return orm.Term(key, []any{loV, hiV}), nil
	}

	if !hasValue {
		return orm.Criterion{}, core.Validationf("criteria %q has no value, expected field__op=value", expr)
	}
	v, err := coerceValue(column, raw)
	if err != nil {
		return orm.Criterion{}, err
	}
	return orm.Term(key, v), nil
}

// parseCriteria parses a list of --where expressions.
func parseCriteria(model *orm.Model, exprs []string) ([]orm.Criterion, error) {
	out := make([]orm.Criterion, 0, len(exprs))
	for _, expr := range exprs {
		c, err := parseCriterion(model, expr)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func fieldColumn(model *orm.Model, name string) (field.Type, error) {
	for _, spec := range model.Specs() {
		if spec.Name == name {
			return spec.Column, nil
		}
	}
	return 0, core.Validationf("unknown field %q, layout %s has %s",
		name, model.Layout(), strings.Join(model.FieldNames(), ", "))
}

// coerceValue converts raw CLI text into the Go value the field's codec
// expects.
func coerceValue(column field.Type, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch column {
	case field.TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, core.Validationf("%q is not a number", raw)
		}
		return n, nil
	case field.TypeDate:
		return parseWhen(raw, field.DateLayout, "2006-01-02")
	case field.TypeTime:
		return parseWhen(raw, field.TimeLayout, "15:04")
	case field.TypeTimestamp:
		return parseWhen(raw, field.TimestampLayout, "2006-01-02 15:04:05")
	default:
		return raw, nil
	}
}

func parseWhen(raw string, layouts ...string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, core.Validationf("cannot parse %q, expected %s", raw, strings.Join(layouts, " or "))
}

// applyShorthand folds a saved query's shorthand map into a query:
// field__op keys become criteria, "sort" orders. A "limit" key is
// returned instead of applied, so the caller can slice after the rest
// of the query shape is in place.
func applyShorthand(model *orm.Model, q *orm.Query, shorthand map[string]any) (*orm.Query, int, error) {
	var sortFields []string
	limit := 0
	for key, value := range shorthand {
		switch key {
		case "sort":
			fields, err := stringList(value)
			if err != nil {
				return nil, 0, core.Validationf("sort: %v", err)
			}
			sortFields = fields
		case "limit":
			n, ok := intValue(value)
			if !ok {
				return nil, 0, core.Validationf("limit must be an integer, got %T", value)
			}
			limit = n
		default:
			q = q.Find(orm.Term(key, value))
		}
	}
	if len(sortFields) > 0 {
		q = q.OrderBy(sortFields...)
	}
	return q, limit, nil
}

func stringList(v any) ([]string, error) {
	switch w := v.(type) {
	case string:
		return []string{w}, nil
	case []string:
		return w, nil
	case []any:
		out := make([]string, 0, len(w))
		for _, item := range w {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", v)
	}
}

func intValue(v any) (int, bool) {
	switch w := v.(type) {
	case int:
		return w, true
	case int64:
		return int(w), true
	case float64:
		return int(w), true
	default:
		return 0, false
	}
}
