package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// MaxAttributeNameLength matches attribute_changes.attribute_name.
const MaxAttributeNameLength = 50

// AttributeKind discriminates AttributeValue.
type AttributeKind uint8

const (
	// AttributeAbsent means the key is not stored. Writing it deletes the key.
	AttributeAbsent AttributeKind = iota
	// AttributeFlag is the boolean presence marker (stored as JSON true).
	AttributeFlag
	// AttributeScalar carries a string or number.
	AttributeScalar
)

func (k AttributeKind) String() string {
	switch k {
	case AttributeAbsent:
		return "absent"
	case AttributeFlag:
		return "flag"
	case AttributeScalar:
		return "scalar"
	default:
		return fmt.Sprintf("AttributeKind(%d)", uint8(k))
	}
}

// AttributeValue is the tagged union stored under an attribute name.
//
// There is no "explicitly false" state: BoolValue(false) and Absent() are the same
// value, and setting either removes the key. A scalar false can only be read
// back from rows written outside the store.
type AttributeValue struct {
	kind   AttributeKind
	scalar any
}

func Absent() AttributeValue { return AttributeValue{} }

func Flag() AttributeValue { return AttributeValue{kind: AttributeFlag} }

// BoolValue maps true to Flag and false to Absent.
func BoolValue(b bool) AttributeValue {
	if b {
		return Flag()
	}
	return Absent()
}

func StringValue(s string) AttributeValue {
	return AttributeValue{kind: AttributeScalar, scalar: s}
}

func IntValue(n int64) AttributeValue {
	return AttributeValue{kind: AttributeScalar, scalar: n}
}

func FloatValue(f float64) AttributeValue {
	return AttributeValue{kind: AttributeScalar, scalar: f}
}

// AttributeFromAny converts a loosely typed value (decoded JSON, CLI input)
// into an AttributeValue. nil and false collapse to Absent.
func AttributeFromAny(v any) (AttributeValue, error) {
	switch val := v.(type) {
	case nil:
		return Absent(), nil
	case AttributeValue:
		return val, nil
	case bool:
		return BoolValue(val), nil
	case string:
		return StringValue(val), nil
	case int:
		return IntValue(int64(val)), nil
	case int8:
		return IntValue(int64(val)), nil
	case int16:
		return IntValue(int64(val)), nil
	case int32:
		return IntValue(int64(val)), nil
	case int64:
		return IntValue(val), nil
	case uint8:
		return IntValue(int64(val)), nil
	case uint16:
		return IntValue(int64(val)), nil
	case uint32:
		return IntValue(int64(val)), nil
	case uint64:
		if val > math.MaxInt64 {
			return Absent(), malformed("attribute value %d overflows int64", val)
		}
		return IntValue(int64(val)), nil
	case float32:
		return FloatValue(float64(val)), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return Absent(), malformed("attribute value %v is not a finite number", val)
		}
		return FloatValue(val), nil
	case json.Number:
		return numberValue(val)
	default:
		return Absent(), malformed("attribute value of type %T is not a scalar", v)
	}
}

func numberValue(n json.Number) (AttributeValue, error) {
	if i, err := n.Int64(); err == nil {
		return IntValue(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Absent(), malformed("attribute value %q is not a number", n.String())
	}
	return FloatValue(f), nil
}

// MatchValue converts a cohort query operand. Unlike AttributeFromAny, false
// stays a scalar false so it only matches rows that literally store false,
// and nil is rejected because an exact match needs a value.
func MatchValue(v any) (AttributeValue, error) {
	switch val := v.(type) {
	case nil:
		return Absent(), malformed("match value is required")
	case bool:
		if !val {
			return AttributeValue{kind: AttributeScalar, scalar: false}, nil
		}
		return Flag(), nil
	case AttributeValue:
		if !val.IsPresent() {
			return Absent(), malformed("match value is required")
		}
		return val, nil
	}
	return AttributeFromAny(v)
}

func (v AttributeValue) Kind() AttributeKind { return v.kind }

// IsPresent reports whether the key exists (flag or scalar).
func (v AttributeValue) IsPresent() bool { return v.kind != AttributeAbsent }

func (v AttributeValue) IsFlag() bool { return v.kind == AttributeFlag }

// Scalar returns the carried value; true for a flag, nil when absent.
func (v AttributeValue) Scalar() any {
	switch v.kind {
	case AttributeFlag:
		return true
	case AttributeScalar:
		return v.scalar
	default:
		return nil
	}
}

// Text renders the value the way the audit log stores it: "True" for a flag,
// the plain scalar otherwise, and nil when absent.
func (v AttributeValue) Text() *string {
	var s string
	switch v.kind {
	case AttributeAbsent:
		return nil
	case AttributeFlag:
		s = "True"
	default:
		switch val := v.scalar.(type) {
		case string:
			s = val
		case int64:
			s = strconv.FormatInt(val, 10)
		case float64:
			s = strconv.FormatFloat(val, 'g', -1, 64)
		case bool:
			if val {
				s = "True"
			} else {
				s = "False"
			}
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				s = fmt.Sprint(val)
			} else {
				s = string(raw)
			}
		}
	}
	return &s
}

func (v AttributeValue) String() string {
	if t := v.Text(); t != nil {
		return *t
	}
	return "<absent>"
}

// Equal compares kind and carried scalar.
func (v AttributeValue) Equal(other AttributeValue) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind != AttributeScalar {
		return true
	}
	return reflect.DeepEqual(v.scalar, other.scalar)
}

// MarshalJSON encodes absent as null and a flag as true.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case AttributeAbsent:
		return []byte("null"), nil
	case AttributeFlag:
		return []byte("true"), nil
	default:
		return json.Marshal(v.scalar)
	}
}

// UnmarshalJSON applies write semantics: null and false become Absent.
func (v *AttributeValue) UnmarshalJSON(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("decode attribute value: %w", err)
	}
	converted, err := AttributeFromAny(decoded)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// decodeAttributeValue reads one JSONB attribute value. Integers stay int64.
func decodeAttributeValue(raw []byte) (AttributeValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Absent(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return Absent(), fmt.Errorf("decode attribute value: %w", err)
	}

	switch val := decoded.(type) {
	case bool:
		if val {
			return Flag(), nil
		}
		return AttributeValue{kind: AttributeScalar, scalar: false}, nil
	case string:
		return StringValue(val), nil
	case json.Number:
		return numberValue(val)
	default:
		// Non-scalar legacy content is surfaced as-is rather than dropped.
		return AttributeValue{kind: AttributeScalar, scalar: val}, nil
	}
}

func decodeAttributes(raw []byte) (map[string]AttributeValue, error) {
	out := make(map[string]AttributeValue)
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	for name, value := range fields {
		decoded, err := decodeAttributeValue(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		if decoded.IsPresent() {
			out[name] = decoded
		}
	}
	return out, nil
}

// ValidateAttributeName rejects empty names and names longer than MaxAttributeNameLength.
func ValidateAttributeName(name string) error {
	if name == "" {
		return malformed("attribute name is required")
	}
	if len(name) > MaxAttributeNameLength {
		return malformed("attribute name %q exceeds %d characters", name, MaxAttributeNameLength)
	}
	return nil
}
