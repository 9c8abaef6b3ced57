package field

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

// =============================================================================
// Text
// =============================================================================

// Text passes string values through. Bound to a Date, Time or Timestamp
// column it carries ISO-8601 strings on the Go side and converts to the US
// wire format; bound to a Number column it passes the value through verbatim
// (FileMaker stores non-numeric text in Number fields as-is and returns it
// unchanged).
type Text struct{}

func (Text) Columns() []Type {
	return []Type{TypeText, TypeNumber, TypeDate, TypeTime, TypeTimestamp, TypeContainer}
}

func (Text) DefaultColumn() Type { return TypeText }

func (Text) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, core.Validationf("expected string operand, got %T", v)
	}
	switch col {
	case TypeText, TypeNumber:
		return s, nil
	case TypeDate:
		t, err := time.Parse(isoDateLayout, s)
		if err != nil {
			return nil, core.Validationf("invalid ISO date %q", s)
		}
		return t.Format(DateLayout), nil
	case TypeTimestamp:
		t, err := parseISOTimestamp(s)
		if err != nil {
			return nil, err
		}
		return t.Format(TimestampLayout), nil
	case TypeTime:
		t, err := time.Parse(TimeLayout, s)
		if err != nil {
			return nil, core.Validationf("invalid time %q, want HH:MM:SS", s)
		}
		return t.Format(TimeLayout), nil
	default:
		return nil, core.Validationf("container fields are read-only, write them with a container upload")
	}
}

func (Text) Decode(col Type, wire any) (any, error) {
	if wire == nil {
		return nil, nil
	}
	if col == TypeNumber {
		switch n := wire.(type) {
		case string:
			return n, nil
		case float64:
			return formatFloat(n), nil
		case int:
			return strconv.Itoa(n), nil
		default:
			return nil, core.Validationf("expected string or number from a Number column, got %T", wire)
		}
	}
	s, ok := wire.(string)
	if !ok {
		return nil, core.Validationf("expected string from a %s column, got %T", col, wire)
	}
	switch col {
	case TypeText, TypeContainer:
		return s, nil
	}
	if s == "" {
		return nil, nil
	}
	switch col {
	case TypeDate:
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, core.Validationf("invalid FileMaker date %q", s)
		}
		return t.Format(isoDateLayout), nil
	case TypeTimestamp:
		t, err := time.Parse(TimestampLayout, s)
		if err != nil {
			return nil, core.Validationf("invalid FileMaker timestamp %q", s)
		}
		return t.Format(isoTimestampLayout), nil
	case TypeTime:
		t, err := time.Parse(TimeLayout, s)
		if err != nil {
			return nil, core.Validationf("invalid FileMaker time %q", s)
		}
		return t.Format(TimeLayout), nil
	default:
		return nil, core.Validationf("codec Text does not support %s columns", col)
	}
}

// =============================================================================
// Int
// =============================================================================

// Int represents whole numbers as int64. Encoding rejects floats and strings
// so that a mistyped query operand fails before the network call.
type Int struct{}

func (Int) Columns() []Type     { return []Type{TypeNumber, TypeText} }
func (Int) DefaultColumn() Type { return TypeNumber }

func (Int) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	var n int64
	switch i := v.(type) {
	case int:
		n = int64(i)
	case int32:
		n = int64(i)
	case int64:
		n = i
	default:
		return nil, core.Validationf("expected integer operand, got %T", v)
	}
	if col == TypeText {
		return strconv.FormatInt(n, 10), nil
	}
	return n, nil
}

func (Int) Decode(col Type, wire any) (any, error) {
	switch n := wire.(type) {
	case nil:
		return nil, nil
	case string:
		if n == "" {
			return nil, nil
		}
		v, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, core.Validationf("cannot decode %q as integer", n)
		}
		return v, nil
	case float64:
		if math.Trunc(n) != n {
			return nil, core.Validationf("cannot decode %v as integer", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return nil, core.Validationf("cannot decode %T as integer", wire)
	}
}

// =============================================================================
// Float
// =============================================================================

// Float represents numbers as float64. Encoding accepts ints but rejects
// strings.
type Float struct{}

func (Float) Columns() []Type     { return []Type{TypeNumber, TypeText} }
func (Float) DefaultColumn() Type { return TypeNumber }

func (Float) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil, core.Validationf("expected numeric operand, got %T", v)
	}
	if col == TypeText {
		return formatFloat(f), nil
	}
	return f, nil
}

func (Float) Decode(col Type, wire any) (any, error) {
	switch n := wire.(type) {
	case nil:
		return nil, nil
	case string:
		if n == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, core.Validationf("cannot decode %q as float", n)
		}
		return v, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return nil, core.Validationf("cannot decode %T as float", wire)
	}
}

// =============================================================================
// Decimal
// =============================================================================

// Decimal represents exact numerics as decimal.Decimal. Encoding rejects
// floats (a float operand has already lost the precision a decimal field is
// there to keep), and decoding rejects JSON floats for the same reason.
type Decimal struct{}

func (Decimal) Columns() []Type     { return []Type{TypeNumber, TypeText} }
func (Decimal) DefaultColumn() Type { return TypeNumber }

func (Decimal) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		return nil, core.Validationf("expected decimal.Decimal operand, got %T", v)
	}
	return d.String(), nil
}

func (Decimal) Decode(col Type, wire any) (any, error) {
	switch n := wire.(type) {
	case nil:
		return nil, nil
	case string:
		if n == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(n)
		if err != nil {
			return nil, core.Validationf("cannot decode %q as decimal", n)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	default:
		return nil, core.Validationf("cannot decode %T as decimal without precision loss", wire)
	}
}

// =============================================================================
// Bool
// =============================================================================

// Bool maps booleans onto FileMaker's 1/0 convention. True and False
// override the wire values written for each state; zero values mean "1" and
// "0". Decoding also accepts the usual boolean spellings (true/false, yes/no,
// on/off, t/f, y/n) in any case.
type Bool struct {
	True, False string
}

func (Bool) Columns() []Type     { return []Type{TypeNumber, TypeText} }
func (Bool) DefaultColumn() Type { return TypeNumber }

func (b Bool) wireTrue() string {
	if b.True == "" {
		return "1"
	}
	return b.True
}

func (b Bool) wireFalse() string {
	if b.False == "" {
		return "0"
	}
	return b.False
}

func (b Bool) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	t, ok := v.(bool)
	if !ok {
		return nil, core.Validationf("expected bool operand, got %T", v)
	}
	if t {
		return b.wireTrue(), nil
	}
	return b.wireFalse(), nil
}

func (b Bool) Decode(col Type, wire any) (any, error) {
	switch n := wire.(type) {
	case nil:
		return nil, nil
	case string:
		if n == "" {
			return nil, nil
		}
		switch n {
		case b.wireTrue():
			return true, nil
		case b.wireFalse():
			return false, nil
		}
		switch strings.ToLower(n) {
		case "1", "t", "true", "on", "y", "yes":
			return true, nil
		case "0", "f", "false", "off", "n", "no":
			return false, nil
		}
		return nil, core.Validationf("cannot decode %q as bool", n)
	case float64:
		switch n {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
		return nil, core.Validationf("cannot decode %v as bool", n)
	case bool:
		return n, nil
	default:
		return nil, core.Validationf("cannot decode %T as bool", wire)
	}
}

// =============================================================================
// Date
// =============================================================================

// Date represents calendar dates as time.Time with a zero clock. On a Date
// column the wire format is FileMaker's US form MM/dd/yyyy; on a Text column
// it is ISO-8601.
type Date struct{}

func (Date) Columns() []Type     { return []Type{TypeDate, TypeText} }
func (Date) DefaultColumn() Type { return TypeDate }

func (Date) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, core.Validationf("expected time.Time operand, got %T", v)
	}
	if col == TypeText {
		return t.Format(isoDateLayout), nil
	}
	return t.Format(DateLayout), nil
}

func (Date) Decode(col Type, wire any) (any, error) {
	s, err := wireString(wire)
	if err != nil || s == "" {
		return nil, err
	}
	layout := DateLayout
	if col == TypeText {
		layout = isoDateLayout
	}
	t, perr := time.Parse(layout, s)
	if perr != nil {
		return nil, core.Validationf("invalid date %q, want %s", s, layout)
	}
	return t, nil
}

// =============================================================================
// Timestamp
// =============================================================================

// Timestamp represents points in time as time.Time. On a Timestamp column the
// wire format is MM/dd/yyyy HH:mm:ss; on a Text column it is ISO-8601.
type Timestamp struct{}

func (Timestamp) Columns() []Type     { return []Type{TypeTimestamp, TypeText} }
func (Timestamp) DefaultColumn() Type { return TypeTimestamp }

func (Timestamp) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, core.Validationf("expected time.Time operand, got %T", v)
	}
	if col == TypeText {
		return t.Format(isoTimestampLayout), nil
	}
	return t.Format(TimestampLayout), nil
}

func (Timestamp) Decode(col Type, wire any) (any, error) {
	s, err := wireString(wire)
	if err != nil || s == "" {
		return nil, err
	}
	if col == TypeText {
		return parseISOTimestamp(s)
	}
	t, perr := time.Parse(TimestampLayout, s)
	if perr != nil {
		return nil, core.Validationf("invalid FileMaker timestamp %q", s)
	}
	return t, nil
}

// =============================================================================
// Time
// =============================================================================

// Time represents a time of day as a time.Time with the zero date. The wire
// format is HH:mm:ss on both Time and Text columns.
type Time struct{}

func (Time) Columns() []Type     { return []Type{TypeTime, TypeText} }
func (Time) DefaultColumn() Type { return TypeTime }

func (Time) Encode(col Type, v any) (any, error) {
	if v == nil {
		return "", nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, core.Validationf("expected time.Time operand, got %T", v)
	}
	return t.Format(TimeLayout), nil
}

func (Time) Decode(col Type, wire any) (any, error) {
	s, err := wireString(wire)
	if err != nil || s == "" {
		return nil, err
	}
	t, perr := time.Parse(TimeLayout, s)
	if perr != nil {
		return nil, core.Validationf("invalid time %q, want HH:MM:SS", s)
	}
	return t, nil
}

// =============================================================================
// Container
// =============================================================================

// Container exposes a container field's download URL. Containers cannot be
// written through fieldData, so Encode always fails; writes go through the
// container upload endpoint.
type Container struct{}

func (Container) Columns() []Type     { return []Type{TypeContainer} }
func (Container) DefaultColumn() Type { return TypeContainer }

func (Container) Encode(col Type, v any) (any, error) {
	return nil, core.Validationf("container fields are read-only, write them with a container upload")
}

func (Container) Decode(col Type, wire any) (any, error) {
	if wire == nil {
		return nil, nil
	}
	s, ok := wire.(string)
	if !ok {
		return nil, core.Validationf("expected container URL string, got %T", wire)
	}
	return s, nil
}

// =============================================================================
// helpers
// =============================================================================

func wireString(wire any) (string, error) {
	switch s := wire.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return "", core.Validationf("expected string wire value, got %T", wire)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseISOTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(isoTimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, core.Validationf("invalid ISO timestamp %q", s)
	}
	return t, nil
}
