package entity

import (
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the Value union.
type Kind uint8

const (
	KindUnavailable Kind = iota
	KindNumber
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unavailable"
	}
}

// Value is a tagged union of the state shapes a widget can display.
// The zero Value is unavailable.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Unavailable()
	}
	return Value{kind: KindNumber, num: f}
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Unavailable() Value    { return Value{} }

func (v Value) Kind() Kind             { return v.kind }
func (v Value) IsAvailable() bool      { return v.kind != KindUnavailable }
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }

// Text formats the value for display. Numbers use the shortest exact form.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		if v.b {
			return "on"
		}
		return "off"
	default:
		return "unavailable"
	}
}

// Canonical returns an unambiguous encoding used for fingerprinting.
// Two values are equal iff their canonical forms are equal.
func (v Value) Canonical() string {
	switch v.kind {
	case KindNumber:
		// -0 and 0 render identically.
		n := v.num
		if n == 0 {
			n = 0
		}
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	case KindString:
		return "s:" + v.str
	case KindBool:
		return "b:" + strconv.FormatBool(v.b)
	default:
		return "u:"
	}
}

// Equal reports whether two values are the same.
func (v Value) Equal(o Value) bool {
	return v.Canonical() == o.Canonical()
}

// ParseState converts a raw Home Assistant state string into a Value.
// "on"/"off" (and "true"/"false") become booleans, "unavailable", "unknown"
// and the empty string become unavailable, numeric strings become numbers,
// anything else stays a string.
func ParseState(raw string) Value {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "unavailable", "unknown", "none":
		return Unavailable()
	case "on", "true":
		return Bool(true)
	case "off", "false":
		return Bool(false)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	return String(s)
}

// FormatFloat renders a number with a fixed precision; negative precision keeps the shortest form.
func FormatFloat(f float64, precision int) string {
	if precision < 0 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', precision, 64)
}
