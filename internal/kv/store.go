// Package kv provides the durable key-value snapshot store the lock
// managers persist into, keyed by account-derived string keys.
package kv

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

// Store is an asynchronous-friendly key-value store. Get reports found
// false for missing keys rather than an error.
type Store interface {
	Get(key string, dest interface{}) (found bool, err error)
	Set(key string, value interface{}) error
	Remove(key string) error
	Close() error
}

type LevelDBStore struct {
	db *leveldb.DB
}

var _ Store = (*LevelDBStore)(nil)

func NewLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	log.Debugf("KV store opened successfully, path: %s", dir)
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key string, dest interface{}) (bool, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LevelDBStore) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), data, nil)
}

func (s *LevelDBStore) Remove(key string) error {
	return s.db.Delete([]byte(key), nil)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps values in a map, for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	data, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
