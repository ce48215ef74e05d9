// Package types defines the domain model shared across the dispatch
// pipeline: the typed Value union, Users, Requests, KeyDataTypes and
// DispatchLogs.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which arm of Value is populated.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the five types the registry (C1) ever
// casts a raw parameter into. Nothing outside pkg/typeregistry should
// construct one from an untyped interface{} — every Value in the
// system has already passed through a cast boundary.
type Value struct {
	kind Kind
	str  string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

func (v Value) Kind() Kind { return v.kind }

// IsNumeric reports whether v carries an int or float payload, the
// precondition for the scorer's numeric precision bonus (spec.md §4.3).
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Float64 returns the numeric payload regardless of Int/Float kind.
// Only valid when IsNumeric() is true.
func (v Value) Float64() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

func (v Value) Str() string       { return v.str }
func (v Value) BoolVal() bool     { return v.b }
func (v Value) TimeVal() time.Time { return v.t }

// Raw unwraps v back to a plain interface{}, used at the boundary when
// handing a value to the matcher's operator table or to JSON encoding.
func (v Value) Raw() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindTime:
		return v.t.Format(time.RFC3339)
	default:
		return ""
	}
}

// Equal compares two Values for the EQ/NE operators, cross-kind safe:
// an Int and a Float compare numerically, everything else compares by
// kind-matched payload.
func (v Value) Equal(other Value) bool {
	if v.IsNumeric() && other.IsNumeric() {
		return v.Float64() == other.Float64()
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	case KindTime:
		return v.t.Equal(other.t)
	default:
		return false
	}
}

// Compare returns -1/0/1 for ordered operators (GT/GTE/LT/LTE). ok is
// false when the two Values are not comparable (e.g. string vs bool),
// mirroring the original's TypeError -> False swallow (spec.md §4.2).
func (v Value) Compare(other Value) (result int, ok bool) {
	switch {
	case v.IsNumeric() && other.IsNumeric():
		a, b := v.Float64(), other.Float64()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	case v.kind == KindString && other.kind == KindString:
		switch {
		case v.str < other.str:
			return -1, true
		case v.str > other.str:
			return 1, true
		default:
			return 0, true
		}
	case v.kind == KindTime && other.kind == KindTime:
		switch {
		case v.t.Before(other.t):
			return -1, true
		case v.t.After(other.t):
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

// valueJSON is Value's wire representation for jsonb columns and HTTP
// bodies: the kind tag plus whichever payload it selects.
type valueJSON struct {
	Kind string `json:"kind"`
	Val  interface{} `json:"value"`
}

// MarshalJSON renders v as {"kind": "...", "value": ...} so the store
// layer can round-trip a Condition through a jsonb column without
// losing its cast type.
func (v Value) MarshalJSON() ([]byte, error) {
	raw := v.Raw()
	if v.kind == KindTime {
		raw = v.t.Format(time.RFC3339Nano)
	}
	return json.Marshal(valueJSON{Kind: v.kind.String(), Val: raw})
}

// UnmarshalJSON reverses MarshalJSON, re-parsing a KindTime payload
// from its RFC3339 string form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch wire.Kind {
	case KindString.String():
		s, _ := wire.Val.(string)
		*v = String(s)
	case KindInt.String():
		f, _ := wire.Val.(float64)
		*v = Int(int64(f))
	case KindFloat.String():
		f, _ := wire.Val.(float64)
		*v = Float(f)
	case KindBool.String():
		b, _ := wire.Val.(bool)
		*v = Bool(b)
	case KindTime.String():
		s, _ := wire.Val.(string)
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("unmarshal Value: invalid datetime %q: %w", s, err)
		}
		*v = Time(t)
	default:
		return fmt.Errorf("unmarshal Value: unknown kind %q", wire.Kind)
	}
	return nil
}
