// Package store is the key/value state shared by every process of the
// capture pipeline. It is the only channel those processes coordinate
// through: writes become visible to other processes through Subscribe, and
// all keys passed to one Set or Remove call are applied together.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Change describes one key after a write. OldValue is nil when the key did
// not exist; NewValue is nil when it was removed.
type Change struct {
	Key      string
	OldValue json.RawMessage
	NewValue json.RawMessage
}

func (c Change) Removed() bool {
	return c.NewValue == nil
}

// Decode unmarshals the new value into out.
func (c Change) Decode(out interface{}) error {
	if c.NewValue == nil {
		return fmt.Errorf("key %s was removed", c.Key)
	}
	return json.Unmarshal(c.NewValue, out)
}

type Store interface {
	// Get decodes the value under key into out and reports whether it existed.
	Get(key string, out interface{}) (bool, error)
	// Set writes every entry of values in one step.
	Set(values map[string]interface{}) error
	// Remove deletes every key in one step. Missing keys are ignored.
	Remove(keys ...string) error
	// Subscribe registers fn for changes and returns a function that
	// unregisters it.
	Subscribe(fn func(Change)) (cancel func())
}

type document map[string]json.RawMessage

func (d document) clone() document {
	out := make(document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func encodeValues(values map[string]interface{}) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		out[key] = data
	}
	return out, nil
}

func decodeValue(doc document, key string, out interface{}) (bool, error) {
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// diff lists the keys whose values differ between two documents, sorted by key.
func diff(before, after document) []Change {
	var changes []Change
	for key, old := range before {
		next, ok := after[key]
		if !ok {
			changes = append(changes, Change{Key: key, OldValue: old})
			continue
		}
		if !bytes.Equal(old, next) {
			changes = append(changes, Change{Key: key, OldValue: old, NewValue: next})
		}
	}
	for key, next := range after {
		if _, ok := before[key]; !ok {
			changes = append(changes, Change{Key: key, NewValue: next})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

func (h *hub) subscribe(fn func(Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(Change))
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *hub) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}

	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
	}
}
