// Package sessionstore persists the agent's sharing record so a restarted
// publisher can resume. The record is always read and written whole.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/freshbasket/livetrack/internal/cache"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

// FileStore keeps the record in a YAML file next to the agent's other state.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (models.SharingState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return models.SharingState{}, false, nil
	}
	if err != nil {
		return models.SharingState{}, false, errors.Wrap(err, "read session file")
	}
	if len(data) == 0 {
		return models.SharingState{}, false, nil
	}
	var st models.SharingState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return models.SharingState{}, false, errors.Wrap(err, "unmarshal session file")
	}
	return st, true, nil
}

// Save replaces the file atomically (write temp, rename).
func (s *FileStore) Save(ctx context.Context, st models.SharingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(&st)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create session dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp session file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "write session file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "close session file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "rename session file")
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}

// CacheStore keeps the record as JSON under one key of a BytesCache, so an agent
// can move between devices backed by the same Redis.
type CacheStore struct {
	c   cache.BytesCache
	key string
}

func NewCacheStore(c cache.BytesCache, agentID string) *CacheStore {
	return &CacheStore{c: c, key: Key(agentID)}
}

func Key(agentID string) string {
	return fmt.Sprintf("agent:%s:sharing", agentID)
}

func (s *CacheStore) Load(ctx context.Context) (models.SharingState, bool, error) {
	b, ok, err := s.c.Get(ctx, s.key)
	if err != nil {
		return models.SharingState{}, false, err
	}
	if !ok {
		return models.SharingState{}, false, nil
	}
	var st models.SharingState
	if err := json.Unmarshal(b, &st); err != nil {
		return models.SharingState{}, false, errors.Wrap(err, "unmarshal session")
	}
	return st, true, nil
}

func (s *CacheStore) Save(ctx context.Context, st models.SharingState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	return s.c.Set(ctx, s.key, b, 0)
}

func (s *CacheStore) Clear(ctx context.Context) error {
	return s.c.Delete(ctx, s.key)
}
