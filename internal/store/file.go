package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
)

// FileStore keeps state in a JSON document on disk so separate processes can
// share it. Every write replaces the whole file with a rename, so readers see
// either the old or the new document and never a partial one. Concurrent
// writers are not serialized across processes: the last rename wins.
type FileStore struct {
	path   string
	logger *logger.Logger

	mu       sync.Mutex
	snapshot document

	hub     hub
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	closeMu sync.Once
}

// OpenFileStore opens (or creates) the store at path and starts watching it
// for writes made by other processes.
func OpenFileStore(path string, log *logger.Logger) (*FileStore, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		path:   path,
		logger: log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	s.snapshot, err = s.read()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: the file itself is replaced on every write.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.watchLoop()

	log.Debug("Opened state store: %s", path)
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string, out interface{}) (bool, error) {
	doc, err := s.read()
	if err != nil {
		return false, err
	}
	return decodeValue(doc, key, out)
}

func (s *FileStore) Set(values map[string]interface{}) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}

	return s.update(func(doc document) {
		for k, v := range encoded {
			doc[k] = v
		}
	})
}

func (s *FileStore) Remove(keys ...string) error {
	return s.update(func(doc document) {
		for _, k := range keys {
			delete(doc, k)
		}
	})
}

func (s *FileStore) Subscribe(fn func(Change)) func() {
	return s.hub.subscribe(fn)
}

// Close stops the watcher. The store must not be used afterwards.
func (s *FileStore) Close() error {
	s.closeMu.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

func (s *FileStore) update(mutate func(document)) error {
	s.mu.Lock()

	current, err := s.read()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	next := current.clone()
	mutate(next)
	changes := diff(current, next)
	if len(changes) == 0 {
		s.mu.Unlock()
		return nil
	}

	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.snapshot = next
	s.mu.Unlock()

	s.hub.publish(changes)
	return nil
}

func (s *FileStore) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(data) == 0 {
		return document{}, nil
	}

	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) write(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close store: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func (s *FileStore) watchLoop() {
	defer close(s.doneCh)
	defer s.watcher.Close()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Trace("State file event: %s", event.Op)
			s.reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Info("State file watcher error: %v", err)

		case <-s.stopCh:
			return
		}
	}
}

// reload publishes whatever another process changed since the last snapshot.
func (s *FileStore) reload() {
	s.mu.Lock()
	doc, err := s.read()
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("Skipping state reload: %v", err)
		return
	}
	changes := diff(s.snapshot, doc)
	s.snapshot = doc
	s.mu.Unlock()

	if len(changes) > 0 {
		s.logger.Debug("State changed externally: %d key(s)", len(changes))
	}
	s.hub.publish(changes)
}
