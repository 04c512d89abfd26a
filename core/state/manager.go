package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"metatx/storage"
)

// Manager is a journaled key-value view over a storage.Database. Writes stay
// in memory until Commit; Snapshot/RevertToSnapshot undo writes made by a
// failed call frame.
//
// Manager is not safe for concurrent use. The node serializes access.
type Manager struct {
	db      storage.Database
	dirty   map[string]entry
	journal []journalEntry
}

type entry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key  string
	prev entry
	had  bool
}

// NewManager creates a state manager on top of db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]entry)}
}

// Get returns the raw value under key, or nil when absent.
func (m *Manager) Get(key []byte) ([]byte, error) {
	if e, ok := m.dirty[string(key)]; ok {
		if e.deleted {
			return nil, nil
		}
		return e.value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) record(key string) {
	prev, had := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, had: had})
}

// Set stores a raw value under key.
func (m *Manager) Set(key, value []byte) {
	k := string(key)
	m.record(k)
	m.dirty[k] = entry{value: append([]byte(nil), value...)}
}

// Remove deletes key.
func (m *Manager) Remove(key []byte) {
	k := string(key)
	m.record(k)
	m.dirty[k] = entry{deleted: true}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.Set(key, encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.Get(key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.Remove(key)
	return nil
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		j := m.journal[i]
		if j.had {
			m.dirty[j.key] = j.prev
		} else {
			delete(m.dirty, j.key)
		}
	}
	m.journal = m.journal[:id]
}

// Pending reports the number of uncommitted keys.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit writes every pending change to the database in one batch.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if m.db == nil {
		return errors.New("state: no database configured")
	}
	batch := new(storage.Batch)
	for key, e := range m.dirty {
		if e.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), e.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops every uncommitted change.
func (m *Manager) Discard() {
	m.dirty = make(map[string]entry)
	m.journal = m.journal[:0]
}
