package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTimestamp
	KindReference
)

var kindNames = [...]string{"null", "bool", "int", "float", "string", "timestamp", "reference"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Reference points at another record by type and primary key
type Reference struct {
	Type string
	PK   Value
}

// Value is a single field or primary key value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	ref  *Reference
}

func NullValue() Value { return Value{} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func TimestampValue(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC()}
}

// ReferenceValue builds a reference to typeName; pk must not itself be a reference
func ReferenceValue(typeName string, pk Value) Value {
	if pk.kind == KindReference {
		pk = pk.ref.PK
	}
	return Value{kind: KindReference, ref: &Reference{Type: typeName, PK: pk}}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTimestamp }
func (v Value) AsReference() (Reference, bool) {
	if v.kind != KindReference {
		return Reference{}, false
	}
	return *v.ref, true
}

// Native returns the value as a database/sql argument
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTimestamp:
		return v.t
	case KindReference:
		return v.ref.PK.Native()
	default:
		return nil
	}
}

// Equal compares kind and payload. Timestamps compare by instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindReference:
		return v.ref.Type == o.ref.Type && v.ref.PK.Equal(o.ref.PK)
	}
	return false
}

// String renders the canonical text form used for identity keys and logs
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case KindReference:
		return v.ref.Type + ":" + v.ref.PK.String()
	default:
		return "null"
	}
}

// MarshalJSON encodes the raw payload. References encode as their primary key.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("unsupported float value %v", v.f)
		}
		return []byte(formatFloat(v.f)), nil
	case KindString:
		return json.Marshal(v.s)
	case KindTimestamp:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindReference:
		return v.ref.PK.MarshalJSON()
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes a scalar. Objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	decoded, err := valueFromToken(tok)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// valueFromToken converts a json.Decoder token (with UseNumber) into a Value
func valueFromToken(tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		return numberValue(t)
	case string:
		return StringValue(t), nil
	case json.Delim:
		return Value{}, fmt.Errorf("unsupported nested value starting with %q", t.String())
	}
	return Value{}, fmt.Errorf("unsupported token %T", tok)
}

func numberValue(n json.Number) (Value, error) {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return IntValue(i), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", text, err)
	}
	return FloatValue(f), nil
}

// parseTimestamp accepts only strings in the exact form the encoder emits for
// timestamps. Archives store them as plain strings; restore converts them back
// for temporal columns only.
func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05Z") || s[len(s)-1] != 'Z' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	if t.UTC().Format(time.RFC3339Nano) != s {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// formatFloat always keeps a decimal point or exponent so floats survive a round trip
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
