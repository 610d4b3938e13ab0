package store

import (
	"context"
	"sync"

	pairchat_errors "pairchat/pkg/errors"
)

// Memory is the in-process Store used by tests and as the default backend.
// A single mutex serializes document mutations, which makes SetFields and
// IncrField atomic per call; watchers get coalesced ticks.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	watchers    map[string]map[int]chan struct{}
	nextWatcher int
	closed      bool
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		watchers:    make(map[string]map[int]chan struct{}),
	}
}

func (m *Memory) Create(ctx context.Context, collection, id string, doc map[string]any) error {
	m.mu.Lock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[collection] = coll
	}
	if _, exists := coll[id]; exists {
		m.mu.Unlock()
		return pairchat_errors.ErrAlreadyExists
	}
	coll[id] = deepCopy(doc)
	m.mu.Unlock()
	m.notify(collection)
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, pairchat_errors.ErrNotFound
	}
	return deepCopy(doc), nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collections[collection]
	out := make([]Doc, 0, len(coll))
	for id, doc := range coll {
		out = append(out, Doc{ID: id, Data: deepCopy(doc)})
	}
	return out, nil
}

func (m *Memory) SetFields(ctx context.Context, collection, id string, fields Fields) error {
	m.mu.Lock()
	doc, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return pairchat_errors.ErrNotFound
	}
	for path, value := range fields {
		setPath(doc, path, deepCopyValue(value))
	}
	m.mu.Unlock()
	m.notify(collection)
	return nil
}

func (m *Memory) IncrField(ctx context.Context, collection, id, path string, delta int64) (int64, error) {
	m.mu.Lock()
	doc, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return 0, pairchat_errors.ErrNotFound
	}
	next, err := incrPath(doc, path, delta)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.notify(collection)
	return next, nil
}

func (m *Memory) Watch(collection string) (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	set, ok := m.watchers[collection]
	if !ok {
		set = make(map[int]chan struct{})
		m.watchers[collection] = set
	}
	id := m.nextWatcher
	m.nextWatcher++
	set[id] = ch
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.watchers[collection]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.watchers, collection)
			}
		}
	}
	return ch, cancel
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, set := range m.watchers {
		for _, ch := range set {
			close(ch)
		}
	}
	m.watchers = make(map[string]map[int]chan struct{})
	return nil
}

func (m *Memory) notify(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.watchers[collection] {
		select {
		case ch <- struct{}{}:
		default:
			// A pending tick already coalesces this change.
		}
	}
}

func deepCopy(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopy(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
