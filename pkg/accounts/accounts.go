// Package accounts implements the account state consumed and mutated by the
// simulator.
//
// A Store is an address-keyed snapshot of account records. It is the unit of
// state an execution reads and writes: the Processor resolves instruction
// accounts against it, and commits a successful execution's mutations back
// through ApplyDelta as a single atomic step. Stores never auto-create
// accounts; referencing an unknown address is a caller error surfaced at
// resolution time.
//
// Two implementations are provided: MemStore, a map-backed store for ordinary
// test fixtures, and BadgerStore, backed by BadgerDB (in-memory by default)
// for large account sets.
package accounts

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrInvalidData is returned when a serialized account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize is the maximum size of account data.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// Account is a single account record.
// This matches Solana's account structure.
type Account struct {
	// Lamports is the account balance in lamports (1 SOL = 1e9 lamports).
	Lamports uint64 `json:"lamports"`

	// Data is the account data. For program accounts, this is bytecode.
	Data []byte `json:"data,omitempty"`

	// Owner is the program that owns this account.
	// Only the owner program may modify the account data.
	Owner types.Pubkey `json:"owner"`

	// Executable indicates a program account. Executable accounts cannot
	// have their data modified.
	Executable bool `json:"executable,omitempty"`

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64 `json:"rent_epoch,omitempty"`
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// Equal reports whether two accounts have identical fields.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.Lamports != other.Lamports ||
		a.Owner != other.Owner ||
		a.Executable != other.Executable ||
		a.RentEpoch != other.RentEpoch ||
		len(a.Data) != len(other.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// IsZero returns true if the account has no lamports and no data.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account to bytes for storage and hashing.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)

	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 { // Minimum: 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	offset := 0

	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	if dataLen > MaxAccountDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)-offset) < dataLen+41 { // 32 (owner) + 1 (executable) + 8 (rent_epoch)
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	rentEpoch := binary.LittleEndian.Uint64(data[offset:])

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  rentEpoch,
	}, nil
}

// Store is the account state a single execution operates on.
// Implementations are not safe for concurrent use; an execution holds the
// only live reference to its store for the instruction's duration.
type Store interface {
	// Get retrieves an account by address.
	// Returns ErrAccountNotFound if the account doesn't exist.
	Get(pubkey types.Pubkey) (*Account, error)

	// Put stores an account, overwriting any existing record.
	Put(pubkey types.Pubkey, account *Account) error

	// Delete removes an account. Returns nil if it doesn't exist.
	Delete(pubkey types.Pubkey) error

	// Pubkeys returns the addresses of all stored accounts.
	Pubkeys() ([]types.Pubkey, error)

	// Len returns the number of stored accounts.
	Len() (int, error)

	// ApplyDelta commits a set of account updates as one atomic step:
	// either all entries update or none do. Used by the Processor to
	// commit a successful execution.
	ApplyDelta(changes map[types.Pubkey]*Account) error

	// Close releases the store.
	Close() error
}

// MemStore is a map-backed Store.
type MemStore struct {
	accounts map[types.Pubkey]*Account
	closed   bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// Get retrieves an account.
func (m *MemStore) Get(pubkey types.Pubkey) (*Account, error) {
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// Put stores an account.
func (m *MemStore) Put(pubkey types.Pubkey, account *Account) error {
	if m.closed {
		return ErrClosed
	}
	m.accounts[pubkey] = account.Clone()
	return nil
}

// Delete removes an account.
func (m *MemStore) Delete(pubkey types.Pubkey) error {
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// Pubkeys returns all stored addresses.
func (m *MemStore) Pubkeys() ([]types.Pubkey, error) {
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of accounts.
func (m *MemStore) Len() (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.accounts), nil
}

// ApplyDelta commits a set of updates. For the in-memory store this is a
// plain loop; atomicity follows from the store's single-threaded access.
func (m *MemStore) ApplyDelta(changes map[types.Pubkey]*Account) error {
	if m.closed {
		return ErrClosed
	}
	for pk, acc := range changes {
		m.accounts[pk] = acc.Clone()
	}
	return nil
}

// Close closes the store.
func (m *MemStore) Close() error {
	m.closed = true
	m.accounts = nil
	return nil
}

// Snapshot captures the full contents of a store.
func Snapshot(s Store) (map[types.Pubkey]*Account, error) {
	keys, err := s.Pubkeys()
	if err != nil {
		return nil, err
	}
	snap := make(map[types.Pubkey]*Account, len(keys))
	for _, pk := range keys {
		acc, err := s.Get(pk)
		if err != nil {
			return nil, err
		}
		snap[pk] = acc
	}
	return snap, nil
}

// Restore resets a store to a previously captured snapshot: accounts created
// since the snapshot are deleted and every snapshotted record is written back.
func Restore(s Store, snap map[types.Pubkey]*Account) error {
	keys, err := s.Pubkeys()
	if err != nil {
		return err
	}
	for _, pk := range keys {
		if _, ok := snap[pk]; !ok {
			if err := s.Delete(pk); err != nil {
				return err
			}
		}
	}
	for pk, acc := range snap {
		if err := s.Put(pk, acc); err != nil {
			return err
		}
	}
	return nil
}
