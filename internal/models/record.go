package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Server-managed fields of a record. They are assigned by the owning store
// and must never be sent back on create.
const (
	FieldID             = "id"
	FieldCollectionID   = "collectionId"
	FieldCollectionName = "collectionName"
	FieldCreated        = "created"
	FieldUpdated        = "updated"
	FieldExpand         = "expand"
)

// SystemFields lists every server-managed field dropped by Project.
var SystemFields = []string{
	FieldID,
	FieldCollectionID,
	FieldCollectionName,
	FieldCreated,
	FieldUpdated,
	FieldExpand,
}

// Field is one named value of a record.
type Field struct {
	Name  string
	Value Value
}

// Fields is an ordered field mapping. Order is the order the store returned
// the fields in and is preserved on the way out.
type Fields []Field

// Get returns the value of the named field.
func (f Fields) Get(name string) (Value, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing field or appends a new one.
func (f *Fields) Set(name string, v Value) {
	for i := range *f {
		if (*f)[i].Name == name {
			(*f)[i].Value = v
			return
		}
	}
	*f = append(*f, Field{Name: name, Value: v})
}

// Names returns the field names in order.
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, field := range f {
		names[i] = field.Name
	}
	return names
}

// Without returns a copy of f with the named fields removed.
func (f Fields) Without(names ...string) Fields {
	out := make(Fields, 0, len(f))
	for _, field := range f {
		if slices.Contains(names, field.Name) {
			continue
		}
		out = append(out, field)
	}
	return out
}

// ToMap converts the fields to a plain map for encoders without order support.
func (f Fields) ToMap() map[string]any {
	m := make(map[string]any, len(f))
	for _, field := range f {
		if field.Value == nil {
			m[field.Name] = nil
			continue
		}
		m[field.Name] = field.Value.Any()
	}
	return m
}

// FieldsFromMap converts a plain map to Fields with keys in sorted order.
func FieldsFromMap(m map[string]any) Fields {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(Fields, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Name: k, Value: FromAny(m[k])})
	}
	return fields
}

// MarshalJSON writes the fields as a JSON object in field order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val Value = Null{}
		if field.Value != nil {
			val = field.Value
		}
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the member order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected JSON object, got %v", tok)
	}

	fields, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*f = fields
	return nil
}

// Record is one record of a collection as returned by a store.
type Record struct {
	ID      string
	Created time.Time
	Fields  Fields
}

// NewRecord builds a Record from a full field list, extracting the
// identifier and creation time from the server-managed fields.
func NewRecord(fields Fields) Record {
	rec := Record{Fields: fields}
	if v, ok := fields.Get(FieldID); ok {
		if s, ok := v.(String); ok {
			rec.ID = string(s)
		}
	}
	if v, ok := fields.Get(FieldCreated); ok {
		if s, ok := v.(String); ok {
			rec.Created, _ = ParseTimestamp(string(s))
		}
	}
	return rec
}

// UnmarshalJSON decodes a store record, keeping field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = NewRecord(fields)
	return nil
}

// Get returns the value of the named field.
func (r Record) Get(name string) (Value, bool) {
	return r.Fields.Get(name)
}

// Project returns the fields of r that can be sent to a destination create:
// server-managed fields and the named extra fields (attachment fields,
// self references) are removed, everything else is kept unchanged and in order.
func (r Record) Project(drop ...string) Fields {
	names := make([]string, 0, len(SystemFields)+len(drop))
	names = append(names, SystemFields...)
	names = append(names, drop...)
	return r.Fields.Without(names...)
}

// timestampLayouts are the creation timestamp formats stores are known to emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000Z",
	"2006-01-02 15:04:05Z",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a store timestamp in any of the known layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// SortByCreated orders records by creation time ascending. The sort is
// stable so records with equal or missing timestamps keep store order.
func SortByCreated(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.Created.Compare(b.Created)
	})
}
