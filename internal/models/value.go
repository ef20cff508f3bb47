package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Value is a sealed interface over the value shapes a record field can hold.
// Only Null, String, Number, Bool, List and Object implement it.
type Value interface {
	value()
	// Any converts the value to plain Go types (nil, string, int64/float64,
	// bool, []any, map[string]any) for encoders that do not know Value.
	Any() any
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) value() {}

// Any implements Value.
func (Null) Any() any { return nil }

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// String is a string field value.
type String string

func (String) value() {}

// Any implements Value.
func (s String) Any() any { return string(s) }

// Number keeps the exact decimal text of a number so integers and decimals
// survive a round trip without float rounding.
type Number string

func (Number) value() {}

// Any implements Value. Integers become int64, everything else float64.
func (n Number) Any() any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(string(n), 64); err == nil {
		return f
	}
	return string(n)
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Any implements Value.
func (b Bool) Any() any { return bool(b) }

// List is an ordered list of values.
type List []Value

func (List) value() {}

// Any implements Value.
func (l List) Any() any {
	out := make([]any, len(l))
	for i, v := range l {
		out[i] = v.Any()
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Value(l))
}

// Object is a nested, ordered field mapping.
type Object Fields

func (Object) value() {}

// Any implements Value.
func (o Object) Any() any { return Fields(o).ToMap() }

// MarshalJSON implements json.Marshaler.
func (o Object) MarshalJSON() ([]byte, error) { return Fields(o).MarshalJSON() }

// IsEmpty reports whether v carries no usable content: nil, Null, an empty
// string or an empty list.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case String:
		return val == ""
	case List:
		return len(val) == 0
	case Object:
		return len(val) == 0
	}
	return false
}

// Strings flattens a String or a List of Strings into its non-empty string
// elements, preserving order. Other shapes yield nil.
func Strings(v Value) []string {
	switch val := v.(type) {
	case String:
		if val == "" {
			return nil
		}
		return []string{string(val)}
	case List:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(String); ok && s != "" {
				out = append(out, string(s))
			}
		}
		return out
	}
	return nil
}

// FromAny converts a decoded Go value (as produced by encoding/json or a
// CBOR codec) into a Value. Maps are converted with sorted keys because Go
// maps carry no order.
func FromAny(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Value:
		return val
	case string:
		return String(val)
	case bool:
		return Bool(val)
	case json.Number:
		return Number(val.String())
	case int:
		return Number(strconv.FormatInt(int64(val), 10))
	case int8:
		return Number(strconv.FormatInt(int64(val), 10))
	case int16:
		return Number(strconv.FormatInt(int64(val), 10))
	case int32:
		return Number(strconv.FormatInt(int64(val), 10))
	case int64:
		return Number(strconv.FormatInt(val, 10))
	case uint:
		return Number(strconv.FormatUint(uint64(val), 10))
	case uint8:
		return Number(strconv.FormatUint(uint64(val), 10))
	case uint16:
		return Number(strconv.FormatUint(uint64(val), 10))
	case uint32:
		return Number(strconv.FormatUint(uint64(val), 10))
	case uint64:
		return Number(strconv.FormatUint(val, 10))
	case float32:
		return Number(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case float64:
		return Number(strconv.FormatFloat(val, 'f', -1, 64))
	case time.Time:
		return String(val.UTC().Format(time.RFC3339Nano))
	case surrealmodels.RecordID:
		if id, err := RecordIDString(val); err == nil {
			return String(id)
		}
		return String(fmt.Sprint(val.ID))
	case *surrealmodels.RecordID:
		if val == nil {
			return Null{}
		}
		return FromAny(*val)
	case []any:
		out := make(List, len(val))
		for i, item := range val {
			out[i] = FromAny(item)
		}
		return out
	case []string:
		out := make(List, len(val))
		for i, item := range val {
			out[i] = String(item)
		}
		return out
	case map[string]any:
		return Object(FieldsFromMap(val))
	case fmt.Stringer:
		return String(val.String())
	}
	return String(fmt.Sprint(v))
}

// decodeValue reads one JSON value from dec, keeping object key order.
func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t.String()), nil
	case json.Delim:
		switch t {
		case '[':
			list := List{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		case '{':
			fields, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			return Object(fields), nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// decodeObject reads object members after the opening brace has been consumed.
func decodeObject(dec *json.Decoder) (Fields, error) {
	fields := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key: unexpected token %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields = append(fields, Field{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}
