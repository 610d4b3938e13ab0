package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	pairchat_errors "pairchat/pkg/errors"
)

// Pebble is the durable single-process backend. Documents are JSON values
// under "doc:<collection>:<id>" keys; a mutex serializes the read-modify-write
// of field updates, which keeps SetFields and IncrField atomic without
// cross-process coordination. Watchers are in-process, like Memory.
type Pebble struct {
	db *pebble.DB

	mu          sync.Mutex
	watchers    map[string]map[int]chan struct{}
	nextWatcher int
	closed      bool
}

func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Pebble{
		db:       db,
		watchers: make(map[string]map[int]chan struct{}),
	}, nil
}

func pebbleKey(collection, id string) []byte {
	return []byte("doc:" + collection + ":" + id)
}

func pebblePrefix(collection string) []byte {
	return []byte("doc:" + collection + ":")
}

func (p *Pebble) Create(ctx context.Context, collection, id string, doc map[string]any) error {
	key := pebbleKey(collection, id)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, closer, err := p.db.Get(key)
	if err == nil {
		_ = closer.Close()
		return pairchat_errors.ErrAlreadyExists
	}
	if err != pebble.ErrNotFound {
		return fmt.Errorf("%w: %v", pairchat_errors.ErrServiceUnavailable, err)
	}
	if err := p.writeDoc(key, doc); err != nil {
		return err
	}
	p.notifyLocked(collection)
	return nil
}

func (p *Pebble) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readDoc(pebbleKey(collection, id))
}

func (p *Pebble) List(ctx context.Context, collection string) ([]Doc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := pebblePrefix(collection)
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pairchat_errors.ErrServiceUnavailable, err)
	}
	defer iter.Close()

	var out []Doc
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var doc map[string]any
		if err := json.Unmarshal(iter.Value(), &doc); err != nil {
			return nil, fmt.Errorf("corrupt document %q: %w", iter.Key(), err)
		}
		out = append(out, Doc{ID: string(iter.Key()[len(prefix):]), Data: doc})
	}
	return out, iter.Error()
}

func (p *Pebble) SetFields(ctx context.Context, collection, id string, fields Fields) error {
	key := pebbleKey(collection, id)
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.readDoc(key)
	if err != nil {
		return err
	}
	for path, value := range fields {
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		setPath(doc, path, normalized)
	}
	if err := p.writeDoc(key, doc); err != nil {
		return err
	}
	p.notifyLocked(collection)
	return nil
}

func (p *Pebble) IncrField(ctx context.Context, collection, id, path string, delta int64) (int64, error) {
	key := pebbleKey(collection, id)
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.readDoc(key)
	if err != nil {
		return 0, err
	}
	next, err := incrPath(doc, path, delta)
	if err != nil {
		return 0, err
	}
	if err := p.writeDoc(key, doc); err != nil {
		return 0, err
	}
	p.notifyLocked(collection)
	return next, nil
}

func (p *Pebble) Watch(collection string) (<-chan struct{}, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{}, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	set, ok := p.watchers[collection]
	if !ok {
		set = make(map[int]chan struct{})
		p.watchers[collection] = set
	}
	id := p.nextWatcher
	p.nextWatcher++
	set[id] = ch
	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if set, ok := p.watchers[collection]; ok {
			delete(set, id)
		}
	}
	return ch, cancel
}

func (p *Pebble) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, set := range p.watchers {
			for _, ch := range set {
				close(ch)
			}
		}
		p.watchers = make(map[string]map[int]chan struct{})
	}
	p.mu.Unlock()
	return p.db.Close()
}

func (p *Pebble) readDoc(key []byte) (map[string]any, error) {
	raw, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, pairchat_errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pairchat_errors.ErrServiceUnavailable, err)
	}
	defer closer.Close()
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %q: %w", key, err)
	}
	return doc, nil
}

func (p *Pebble) writeDoc(key []byte, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := p.db.Set(key, raw, pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", pairchat_errors.ErrServiceUnavailable, err)
	}
	return nil
}

func (p *Pebble) notifyLocked(collection string) {
	for _, ch := range p.watchers[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
