// Package field defines the FileMaker column types and the codecs that
// translate between Go values and the Data API wire representation.
//
// A Codec is bound to a column Type when a model is defined. The same codec
// can behave differently per column: a Date codec writes the US wire format
// (MM/dd/yyyy) into a Date column but ISO-8601 into a Text column, matching
// how FileMaker solutions commonly mirror dates into text fields.
//
// Encoding is strict about operand types (an Int codec rejects floats and
// strings, a Decimal codec rejects floats) so that bad query operands fail
// before any network call. Decoding is lenient about the wire side, where the
// Data API may deliver a number field as either a JSON string or a JSON
// number.
package field

import "strings"

// =============================================================================
// Type
// =============================================================================

// Type is a FileMaker column type as reported by layout metadata.
type Type int

const (
	// TypeText is a FileMaker Text column.
	TypeText Type = iota
	// TypeNumber is a FileMaker Number column.
	TypeNumber
	// TypeDate is a FileMaker Date column.
	TypeDate
	// TypeTime is a FileMaker Time column.
	TypeTime
	// TypeTimestamp is a FileMaker Timestamp column.
	TypeTimestamp
	// TypeContainer is a FileMaker Container column. Containers are read-only
	// through field data; writes go through the container upload endpoint.
	TypeContainer
)

// String returns the FileMaker name of the column type.
func (t Type) String() string {
	switch t {
	case TypeText:
		return "Text"
	case TypeNumber:
		return "Number"
	case TypeDate:
		return "Date"
	case TypeTime:
		return "Time"
	case TypeTimestamp:
		return "Timestamp"
	case TypeContainer:
		return "Container"
	default:
		return "unknown"
	}
}

// ParseType converts a column-type name (as found in layout metadata) to a
// Type value. Returns the type and true if valid, or TypeText and false if
// not.
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(s) {
	case "text":
		return TypeText, true
	case "number":
		return TypeNumber, true
	case "date":
		return TypeDate, true
	case "time":
		return TypeTime, true
	case "timestamp":
		return TypeTimestamp, true
	case "container":
		return TypeContainer, true
	default:
		return TypeText, false
	}
}

// =============================================================================
// Codec
// =============================================================================

// Codec converts between Go values and wire values for one value shape.
//
// Encode returns the wire value to place in fieldData or a query operand:
// a string for most codecs, a JSON number for numeric codecs bound to Number
// columns. A nil input encodes to "", which is how the Data API clears a
// field. Decode maps the wire's "" back to nil (except for Text and
// Container, where "" is a legitimate value).
type Codec interface {
	// Columns lists the column types this codec may be bound to.
	Columns() []Type
	// DefaultColumn is the column type assumed when a field definition does
	// not name one.
	DefaultColumn() Type
	// Encode converts a Go value to its wire form for the given column.
	Encode(col Type, v any) (any, error)
	// Decode converts a wire value for the given column to its Go form.
	Decode(col Type, wire any) (any, error)
}

// Supports reports whether codec c may be bound to column type col.
func Supports(c Codec, col Type) bool {
	for _, t := range c.Columns() {
		if t == col {
			return true
		}
	}
	return false
}

// Wire layouts for the FileMaker US formats and their ISO text equivalents.
const (
	DateLayout      = "01/02/2006"
	TimeLayout      = "15:04:05"
	TimestampLayout = "01/02/2006 15:04:05"

	isoDateLayout      = "2006-01-02"
	isoTimestampLayout = "2006-01-02T15:04:05"
)
