package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Fields is an insertion-ordered map of field name to Value
type Fields struct {
	keys   []string
	values map[string]Value
}

// NewFields returns an empty field map
func NewFields() *Fields {
	return &Fields{values: make(map[string]Value)}
}

// Set stores v under name. Overwriting keeps the original position.
func (f *Fields) Set(name string, v Value) {
	if f.values == nil {
		f.values = make(map[string]Value)
	}
	if _, exists := f.values[name]; !exists {
		f.keys = append(f.keys, name)
	}
	f.values[name] = v
}

func (f *Fields) Get(name string) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	v, ok := f.values[name]
	return v, ok
}

func (f *Fields) Delete(name string) {
	if f == nil {
		return
	}
	if _, ok := f.values[name]; !ok {
		return
	}
	delete(f.values, name)
	for i, k := range f.keys {
		if k == name {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Keys returns field names in insertion order
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Columns splits the map into column names and database/sql arguments
func (f *Fields) Columns() ([]string, []any) {
	cols := f.Keys()
	vals := make([]any, len(cols))
	for i, name := range cols {
		vals[i] = f.values[name].Native()
	}
	return cols, vals
}

// Equal reports whether both maps hold the same names, order and values
func (f *Fields) Equal(o *Fields) bool {
	if f.Len() != o.Len() {
		return false
	}
	for i, k := range f.Keys() {
		if o.keys[i] != k || !f.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range f.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := f.values[name].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the document's key order
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{values: make(map[string]Value)}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields must be an object, got %v", tok)
	}

	out := Fields{values: make(map[string]Value)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected field key %v", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		v, err := valueFromToken(valTok)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		out.Set(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}

// RecordEnvelope is the serialized form of one database row
type RecordEnvelope struct {
	Type   string  `json:"model"`
	PK     Value   `json:"pk"`
	Fields *Fields `json:"fields"`

	// decodeErr is set on an archive element that could not be decoded;
	// index is its position in the archive
	decodeErr error
	index     int
}

// malformedEnvelope stands in for the archive element at index so the
// restore can count it as failed
func malformedEnvelope(index int, model string, err error) RecordEnvelope {
	return RecordEnvelope{Type: model, PK: NullValue(), Fields: NewFields(), decodeErr: err, index: index}
}

// NewRecordEnvelope returns an envelope with an empty field map
func NewRecordEnvelope(typeName string, pk Value) RecordEnvelope {
	return RecordEnvelope{Type: typeName, PK: pk, Fields: NewFields()}
}

// Identity is the composite key used to de-duplicate envelopes
func (e RecordEnvelope) Identity() string {
	if e.decodeErr != nil {
		return "\x00malformed\x00" + strconv.Itoa(e.index)
	}
	return e.Type + "\x00" + e.PK.Kind().String() + "\x00" + e.PK.String()
}

func (e *RecordEnvelope) UnmarshalJSON(data []byte) error {
	type plain RecordEnvelope
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Type == "" {
		return errors.New("record has no model")
	}
	if decoded.Fields == nil {
		decoded.Fields = NewFields()
	}
	*e = RecordEnvelope(decoded)
	return nil
}
