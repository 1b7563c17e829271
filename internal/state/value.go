package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds. KindOther covers JSON arrays and objects, which no field accepts.
const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "object"
	}
}

// Value is a tagged union of the raw scalar types a client can send for a
// field. It is produced at the decode boundary and consumed by the field
// rules, which coerce it into the field's Go type.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// String returns a Value holding a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns a Value holding an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a Value holding a floating point number.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a Value holding a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// ValueOf converts a decoded Go value into a Value. Numbers decoded with
// json.Decoder.UseNumber keep their integer/float distinction.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case json.Number:
		return numberValue(t)
	case Value:
		return t
	default:
		return Value{kind: KindOther, s: fmt.Sprint(t)}
	}
}

// numberValue keeps integral JSON numbers as KindInt.
func numberValue(n json.Number) Value {
	if i, err := n.Int64(); err == nil {
		return Int(i)
	}
	// Out-of-range numbers come back as ±Inf and are rejected by the rules.
	f, _ := strconv.ParseFloat(n.String(), 64) //nolint:errcheck // ErrRange still yields ±Inf
	return Float(f)
}

// AsString coerces v to a string. Null and composite values do not coerce.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		if !isFinite(v.f) {
			return "", false
		}
		return formatFloat(v.f), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// formatFloat keeps a fractional part on integral floats, so 1.0 reads
// "1.0" and never matches the "1" token.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// AsInt coerces v to an integer. Floats truncate toward zero; strings must
// be base-10 integers (surrounding whitespace allowed). Integers too large
// for int64 saturate, which is harmless since every integer field clamps.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if !isFinite(v.f) {
			return 0, false
		}
		return saturateInt(math.Trunc(v.f)), true
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		return n, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsFloat coerces v to a finite float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, isFinite(v.f)
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || !isFinite(f) {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Truthy and falsy tokens accepted for boolean fields, compared lowercase.
var (
	truthyTokens = map[string]struct{}{"true": {}, "1": {}, "yes": {}, "on": {}}
	falsyTokens  = map[string]struct{}{"false": {}, "0": {}, "no": {}, "off": {}}
)

// AsBool coerces v to a boolean. Native booleans pass through; anything
// else must stringify to one of the truthy or falsy tokens.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	s, ok := v.AsString()
	if !ok {
		return false, false
	}
	s = strings.ToLower(s)
	if _, ok := truthyTokens[s]; ok {
		return true, true
	}
	if _, ok := falsyTokens[s]; ok {
		return false, true
	}
	return false, false
}

// MarshalJSON writes v back in its original JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if !isFinite(v.f) {
			return []byte("null"), nil
		}
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindOther:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON value into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = decodeValue(data)
	return nil
}

// Patch is a partial update: field name to raw value. Keys that do not name
// a known field are carried but ignored by the engine.
type Patch map[string]Value

// DecodePatch parses a request body into a Patch. An empty body or JSON null
// is an empty patch; anything other than a JSON object is rejected.
func DecodePatch(data []byte) (Patch, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Patch{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &FieldError{
			Field:  "body",
			Reason: "must be a JSON object",
			Err:    ErrInvalidValue,
		}
	}

	p := make(Patch, len(raw))
	for k, msg := range raw {
		p[k] = decodeValue(msg)
	}
	return p, nil
}

// PatchFrom builds a Patch from already-decoded values.
func PatchFrom(m map[string]any) Patch {
	p := make(Patch, len(m))
	for k, x := range m {
		p[k] = ValueOf(x)
	}
	return p
}

// Keys returns the patch keys in sorted order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeValue decodes a single raw JSON value, keeping number precision.
func decodeValue(msg []byte) Value {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{kind: KindOther, s: string(msg)}
	}
	return ValueOf(x)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// saturateInt converts an integral float to int64, saturating at the bounds.
func saturateInt(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}
