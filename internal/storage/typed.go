package storage

import (
	"encoding/json"
	"fmt"
)

// TypedStore is a Store view that (un)marshals one Go type under one kind.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a typed view of store for kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{store: store, kind: kind}
}

// Kind returns the resource kind this store handles.
func (s *TypedStore[T]) Kind() string {
	return s.kind
}

// Get decodes the value stored for id. When nothing is stored it returns
// the zero value and a zero Meta.
func (s *TypedStore[T]) Get(id string) (T, Meta, error) {
	var value T
	payload, meta, err := s.store.Load(s.kind, id)
	if err != nil || !meta.Exists() {
		return value, Meta{}, err
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, Meta{}, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}
	return value, meta, nil
}

// Set encodes and stores value for id.
func (s *TypedStore[T]) Set(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", s.kind, id, err)
	}
	_, err = s.store.Save(s.kind, id, payload)
	return err
}

// Delete removes the value for id.
func (s *TypedStore[T]) Delete(id string) error {
	_, err := s.store.Delete(s.kind, id)
	return err
}

// Clear removes every value of this kind.
func (s *TypedStore[T]) Clear() error {
	_, err := s.store.Clear(s.kind)
	return err
}
