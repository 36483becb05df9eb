package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes an object keeping integers as int64, so a payload
// read back from Redis, Postgres or an HTTP body matches one built in Go.
// Numbers that do not fit an int64 decode as float64.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*f = nil
		return nil
	}
	for k, v := range raw {
		n, err := normalizeNumbers(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		raw[k] = n
	}
	*f = raw
	return nil
}

func normalizeNumbers(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case map[string]any:
		for k, inner := range t {
			n, err := normalizeNumbers(inner)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, inner := range t {
			n, err := normalizeNumbers(inner)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	}
	return v, nil
}
