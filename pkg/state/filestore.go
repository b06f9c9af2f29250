package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// fileDocVersion is the schema version of the JSON state document.
const fileDocVersion = 1

// fileDoc is the on-disk layout of the file backend.
type fileDoc struct {
	Version   int                  `json:"version"`
	Resources engine.ObservedState `json:"resources"`
}

// FileStore keeps the observed state in a single JSON document. Writes
// rewrite the whole document through a temp file and rename, so a crash
// leaves either the old or the new document, never a torn one.
type FileStore struct {
	mu   sync.RWMutex
	path string
	doc  fileDoc
}

// OpenFileStore opens (or creates) the JSON state file at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc: fileDoc{
			Version:   fileDocVersion,
			Resources: make(engine.ObservedState),
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, engine.NewStateError(
			fmt.Sprintf("failed to read state file %s", path), err).
			WithCode(engine.ErrCodeStateIO)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, engine.NewStateError(
			fmt.Sprintf("state file %s is corrupt", path), err).
			WithCode(engine.ErrCodeStateIO)
	}
	if s.doc.Version != fileDocVersion {
		return nil, engine.NewStateError(
			fmt.Sprintf("state file %s has unsupported version %d", path, s.doc.Version), nil).
			WithCode(engine.ErrCodeStateIO)
	}
	if s.doc.Resources == nil {
		s.doc.Resources = make(engine.ObservedState)
	}
	return s, nil
}

// Get returns the record for a resource id.
func (s *FileStore) Get(ctx context.Context, id string) (*engine.ObservedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.doc.Resources[id]
	if !ok {
		return nil, engine.NewStateError(
			fmt.Sprintf("no state record for resource %q", id), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(id)
	}
	return &rec, nil
}

// Put replaces the record for a resource id and persists the document.
func (s *FileStore) Put(ctx context.Context, id string, rec engine.ObservedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.doc.Resources[id]
	s.doc.Resources[id] = rec
	if err := s.flushLocked(); err != nil {
		// Roll the in-memory copy back so it keeps matching the file.
		if hadPrev {
			s.doc.Resources[id] = prev
		} else {
			delete(s.doc.Resources, id)
		}
		return err
	}
	return nil
}

// Delete removes the record for a resource id. Absent records are a no-op.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.doc.Resources[id]
	if !ok {
		return nil
	}
	delete(s.doc.Resources, id)
	if err := s.flushLocked(); err != nil {
		s.doc.Resources[id] = prev
		return err
	}
	return nil
}

// All returns a copy of every record keyed by resource id.
func (s *FileStore) All(ctx context.Context) (engine.ObservedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(engine.ObservedState, len(s.doc.Resources))
	for id, rec := range s.doc.Resources {
		out[id] = rec
	}
	return out, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

// flushLocked writes the document atomically. Callers hold the write lock.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return engine.NewStateError("failed to encode state document", err).
			WithCode(engine.ErrCodeStateIO)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return engine.NewStateError(
			fmt.Sprintf("failed to create state directory %s", dir), err).
			WithCode(engine.ErrCodeStateIO)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return engine.NewStateError("failed to create temp state file", err).
			WithCode(engine.ErrCodeStateIO)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return engine.NewStateError("failed to write state file", err).
			WithCode(engine.ErrCodeStateIO)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return engine.NewStateError("failed to sync state file", err).
			WithCode(engine.ErrCodeStateIO)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return engine.NewStateError("failed to close state file", err).
			WithCode(engine.ErrCodeStateIO)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return engine.NewStateError(
			fmt.Sprintf("failed to replace state file %s", s.path), err).
			WithCode(engine.ErrCodeStateIO)
	}
	return nil
}
