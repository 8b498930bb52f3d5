// Package dict converts entities to and from the loosely-typed maps consumed by
// the orchestrator and graph-store collaborators. Field names follow the JSON tags.
package dict

import (
	"encoding/json"
	"fmt"
)

// From renders v as a generic map using its JSON encoding.
func From(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode entity map: %w", err)
	}
	return out, nil
}

// Into rebuilds a typed entity from a map produced by From.
func Into[T any](m map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(m)
	if err != nil {
		return out, fmt.Errorf("encode entity map: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

// EncodeError is the panic value raised by MustFrom.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return e.Err.Error() }

func (e *EncodeError) Unwrap() error { return e.Err }

// MustFrom is From for result payloads. It panics with *EncodeError when v cannot
// be encoded; the operation dispatcher turns that into an error result.
func MustFrom(v any) map[string]any {
	m, err := From(v)
	if err != nil {
		panic(&EncodeError{Err: err})
	}
	return m
}
