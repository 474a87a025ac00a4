package transform

import (
	"strconv"
	"strings"
)

// FieldParser coerces one raw field into a typed Value. Parsers are total:
// sentinels map to Missing, garbage maps to Malformed, never an error.
type FieldParser func(raw string) Value

// isSentinel reports whether a raw field is one of the source's
// not-applicable markers.
func isSentinel(raw string) bool {
	switch raw {
	case "", `\N`, "NULL", "null":
		return true
	}
	return false
}

// ParseInt coerces a decimal integer.
func ParseInt(raw string) Value {
	raw = strings.TrimSpace(raw)
	if isSentinel(raw) {
		return Missing()
	}
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Malformed(raw)
	}
	return IntVal(i)
}

// ParseFloat coerces a decimal float (points can be 1.5, 2.5).
func ParseFloat(raw string) Value {
	raw = strings.TrimSpace(raw)
	if isSentinel(raw) {
		return Missing()
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Malformed(raw)
	}
	return FloatVal(f)
}

// ParseString passes text through, mapping sentinels to Missing.
func ParseString(raw string) Value {
	if isSentinel(strings.TrimSpace(raw)) {
		return Missing()
	}
	return StringVal(raw)
}

// ParsePositionText coerces the positionText column: plain digits become the
// finishing position, classification markers (R, W, F, D, E) become
// Missing. A non-finish is absence of a position, never zero.
func ParsePositionText(raw string) Value {
	raw = strings.TrimSpace(raw)
	if isSentinel(raw) {
		return Missing()
	}
	if !isDigits(raw) {
		return Missing()
	}
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Malformed(raw)
	}
	return IntVal(i)
}

// ParseRaceTime coerces an elapsed-time string to total seconds:
//
//	SS.mmm          plain seconds (short pit stops)
//	M:SS.mmm        lap and qualifying times
//	H:MM:SS.mmm     full race times
//
// Absence of a time (a non-finish) yields Missing, never zero.
func ParseRaceTime(raw string) Value {
	raw = strings.TrimSpace(raw)
	if isSentinel(raw) {
		return Missing()
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return Malformed(raw)
	}

	var total float64
	for _, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f < 0 {
			return Malformed(raw)
		}
		total = total*60 + f
	}
	return FloatVal(total)
}

// FlagSet returns a parser producing true when the raw field is one of the
// given markers, false otherwise, Missing for sentinels. Used for
// classification flags like did_not_finish (R/W/F) and disqualified (D/E).
func FlagSet(markers ...string) FieldParser {
	set := make(map[string]bool, len(markers))
	for _, m := range markers {
		set[m] = true
	}
	return func(raw string) Value {
		raw = strings.TrimSpace(raw)
		if isSentinel(raw) {
			return Missing()
		}
		return BoolVal(set[raw])
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
