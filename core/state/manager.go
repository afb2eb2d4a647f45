package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"occrlend/storage"
)

var (
	// ErrTxActive is returned by Begin when a journal is already open.
	ErrTxActive = errors.New("state: transaction already active")
	// ErrNoTx is returned by Commit and Rollback without an open journal.
	ErrNoTx = errors.New("state: no active transaction")
)

// Manager provides RLP-encoded key/value access to engine state on top of a
// storage.Database. Writes made between Begin and Commit are buffered in a
// journal and reach the database in a single batch; Rollback discards them.
// Outside a transaction writes go straight to the database.
//
// Manager is not safe for concurrent use. The node serialises access.
type Manager struct {
	db      storage.Database
	journal map[string]journalEntry
	order   []string
}

type journalEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Begin opens a write journal.
func (m *Manager) Begin() error {
	if m.journal != nil {
		return ErrTxActive
	}
	m.journal = make(map[string]journalEntry)
	m.order = m.order[:0]
	return nil
}

// InTx reports whether a journal is open.
func (m *Manager) InTx() bool { return m.journal != nil }

// Commit flushes the journal to the database atomically.
func (m *Manager) Commit() error {
	if m.journal == nil {
		return ErrNoTx
	}
	batch := m.db.NewBatch()
	for _, key := range m.order {
		entry := m.journal[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	m.journal = nil
	m.order = m.order[:0]
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Rollback drops every write made since Begin.
func (m *Manager) Rollback() error {
	if m.journal == nil {
		return ErrNoTx
	}
	m.journal = nil
	m.order = m.order[:0]
	return nil
}

// Pending returns the number of keys touched in the open journal.
func (m *Manager) Pending() int { return len(m.journal) }

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if m.journal != nil {
		if entry, ok := m.journal[string(hashed)]; ok {
			if entry.deleted {
				return nil, nil
			}
			return entry.value, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) put(hashed, value []byte) error {
	if m.journal == nil {
		return m.db.Put(hashed, value)
	}
	key := string(hashed)
	if _, seen := m.journal[key]; !seen {
		m.order = append(m.order, key)
	}
	m.journal[key] = journalEntry{value: append([]byte(nil), value...)}
	return nil
}

func (m *Manager) del(hashed []byte) error {
	if m.journal == nil {
		return m.db.Delete(hashed)
	}
	key := string(hashed)
	if _, seen := m.journal[key]; !seen {
		m.order = append(m.order, key)
	}
	m.journal[key] = journalEntry{deleted: true}
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
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
	return m.del(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.put(hashed, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
