package store

import "sync"

// MemoryStore keeps state for the lifetime of one process.
type MemoryStore struct {
	mu  sync.RWMutex
	doc document
	hub hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: document{}}
}

func (s *MemoryStore) Get(key string, out interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decodeValue(s.doc, key, out)
}

func (s *MemoryStore) Set(values map[string]interface{}) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	next := s.doc.clone()
	for k, v := range encoded {
		next[k] = v
	}
	changes := diff(s.doc, next)
	s.doc = next
	s.mu.Unlock()

	s.hub.publish(changes)
	return nil
}

func (s *MemoryStore) Remove(keys ...string) error {
	s.mu.Lock()
	next := s.doc.clone()
	for _, k := range keys {
		delete(next, k)
	}
	changes := diff(s.doc, next)
	s.doc = next
	s.mu.Unlock()

	s.hub.publish(changes)
	return nil
}

func (s *MemoryStore) Subscribe(fn func(Change)) func() {
	return s.hub.subscribe(fn)
}
