package rete

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Fact is an immutable flat record evaluated against the rule set.
type Fact struct {
	fields map[string]Value
}

// NewFact builds a fact from decoded values, copying the input.
func NewFact(fields map[string]interface{}) (Fact, error) {
	out := make(map[string]Value, len(fields))
	for k, raw := range fields {
		v, err := ValueOf(raw)
		if err != nil {
			return Fact{}, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return Fact{fields: out}, nil
}

// MustFact is NewFact for literals known to be valid.
func MustFact(fields map[string]interface{}) Fact {
	f, err := NewFact(fields)
	if err != nil {
		panic(err)
	}
	return f
}

// Get returns the field value and whether the field is present.
func (f Fact) Get(field string) (Value, bool) {
	v, ok := f.fields[field]
	return v, ok
}

func (f Fact) Len() int { return len(f.fields) }

// Fields returns the field names in sorted order.
func (f Fact) Fields() []string {
	names := make([]string, 0, len(f.fields))
	for k := range f.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a plain copy suitable for encoders.
func (f Fact) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(f.fields))
	for k, v := range f.fields {
		out[k] = v.Interface()
	}
	return out
}

func (f Fact) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

func (f *Fact) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("fact must be a JSON object: %w", err)
	}
	parsed, err := NewFact(raw)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
