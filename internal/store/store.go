// Package store defines the document-store capability the chat engine runs
// on: collections of id->document maps with create-if-absent, field-path
// merges, atomic per-field increments and collection change notification.
package store

import (
	"context"
	"encoding/json"
)

// Fields maps dotted field paths (e.g. "unreadCount.u1") to values to merge
// into a document.
type Fields map[string]any

// Doc is one stored document with its id.
type Doc struct {
	ID   string
	Data map[string]any
}

// Store is the contract every backend satisfies. Concurrent writers touching
// different field paths of the same document must never conflict; IncrField
// must be atomic so concurrent increments never undercount.
type Store interface {
	// Create writes the document only if the id is absent and returns
	// pairchat_errors.ErrAlreadyExists otherwise.
	Create(ctx context.Context, collection, id string, doc map[string]any) error

	// Get returns the document or pairchat_errors.ErrNotFound.
	Get(ctx context.Context, collection, id string) (map[string]any, error)

	// List returns every document in the collection, in unspecified order.
	List(ctx context.Context, collection string) ([]Doc, error)

	// SetFields merges the given field paths into an existing document.
	SetFields(ctx context.Context, collection, id string, fields Fields) error

	// IncrField atomically adds delta to an integer field path, treating a
	// missing field as zero, and returns the new value.
	IncrField(ctx context.Context, collection, id, path string, delta int64) (int64, error)

	// Watch returns a channel that receives a tick whenever any document in
	// the collection changes, plus a cancel func that releases the watcher.
	// Ticks are coalesced; readers re-load full snapshots, not deltas.
	Watch(collection string) (<-chan struct{}, func())

	Close() error
}

// EncodeDoc converts a domain value into the generic document shape via its
// JSON representation.
func EncodeDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeDoc converts a generic document back into a domain value.
func DecodeDoc(doc map[string]any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
