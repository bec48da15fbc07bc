// Package storage defines the key-value contract behind the engine's
// persisted client state.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no value
var ErrNotFound = errors.New("not found")

// KV is a flat key-value store. Implementations must be safe for
// concurrent use.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// GetJSON loads key and decodes it into v.
func GetJSON(kv KV, key string, v any) error {
	data, err := kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(key, data)
}

// DeleteIfExists removes key, ignoring ErrNotFound.
func DeleteIfExists(kv KV, key string) error {
	if err := kv.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
