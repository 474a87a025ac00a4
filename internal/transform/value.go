// Package transform normalizes raw bronze rows into the typed clean schema.
// Raw fields are modeled as an explicit tagged union of parse outcomes, so
// the transformer is a total function: one bad field becomes a missing value,
// never a panic or an aborted batch.
package transform

import "strconv"

// Kind discriminates the parse outcome of one field.
type Kind int

const (
	// KindMissing marks an absent or not-applicable value (empty, \N).
	KindMissing Kind = iota
	// KindMalformed marks a present but unparseable value. It behaves as
	// missing downstream but is distinguishable for diagnostics.
	KindMalformed
	KindInt
	KindFloat
	KindBool
	KindString
)

// Value is one field after coercion.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
}

// Missing returns the explicit missing-value marker.
func Missing() Value {
	return Value{kind: KindMissing}
}

// Malformed marks a value that was present but did not parse; the raw text
// is kept for diagnostics.
func Malformed(raw string) Value {
	return Value{kind: KindMalformed, s: raw}
}

// IntVal wraps an integer.
func IntVal(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// FloatVal wraps a float.
func FloatVal(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// BoolVal wraps a boolean.
func BoolVal(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// StringVal wraps a string.
func StringVal(s string) Value {
	return Value{kind: KindString, s: s}
}

// Kind returns the discriminator.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether the value is missing or malformed; both surface as
// NULL in the clean store.
func (v Value) IsNull() bool {
	return v.kind == KindMissing || v.kind == KindMalformed
}

// Int returns the integer value and whether the value holds one.
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

// Float returns the float value; integers widen. The second result reports
// whether a numeric value was present.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Bool returns the boolean value and whether the value holds one.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Str returns the string value and whether the value holds one.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Canonical returns a deterministic textual encoding, used for segment
// checksums. Equal values always encode identically; missing and malformed
// both encode as the NULL sentinel so checksums depend only on cleaned
// content.
func (v Value) Canonical() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	default:
		return `\N`
	}
}
