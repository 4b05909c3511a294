// Package accounts provides the BadgerDB-backed store implementation.
package accounts

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

// prefixAccount is the key prefix for account records.
// Key format: prefixAccount + pubkey (32 bytes)
var prefixAccount = []byte{0x01}

// BadgerConfig contains configuration for the Badger-backed store.
type BadgerConfig struct {
	// Path is the directory path for the database. Ignored when InMemory
	// is set.
	Path string

	// InMemory runs the database entirely in memory. This is the normal
	// mode for the simulator; state never outlives the process.
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables badger logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns an in-memory configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory: true,
		Logger:   nil,
	}
}

// BadgerStore is a BadgerDB-backed Store for large fixture sets.
//
// Accounts are stored under their 32-byte pubkey in the compact binary
// format of Account.Serialize. ApplyDelta commits through a single Badger
// transaction so a partially applied execution delta is never observable.
type BadgerStore struct {
	db     *badger.DB
	closed bool
}

// NewBadgerStore opens a Badger-backed store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// accountKey returns the Badger key for an account.
func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// Get retrieves an account by address.
func (b *BadgerStore) Get(pubkey types.Pubkey) (*Account, error) {
	if b.closed {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acc, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Put stores an account.
func (b *BadgerStore) Put(pubkey types.Pubkey, account *Account) error {
	if b.closed {
		return ErrClosed
	}
	data := account.Serialize()
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(pubkey), data)
	})
}

// Delete removes an account.
func (b *BadgerStore) Delete(pubkey types.Pubkey) error {
	if b.closed {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Pubkeys returns the addresses of all stored accounts.
func (b *BadgerStore) Pubkeys() ([]types.Pubkey, error) {
	if b.closed {
		return nil, ErrClosed
	}

	var keys []types.Pubkey
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if len(k) != 1+types.PubkeySize {
				return ErrInvalidData
			}
			pk, err := types.PubkeyFromBytes(k[1:])
			if err != nil {
				return err
			}
			keys = append(keys, pk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Len returns the number of stored accounts.
func (b *BadgerStore) Len() (int, error) {
	keys, err := b.Pubkeys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ApplyDelta commits a set of account updates in one transaction.
func (b *BadgerStore) ApplyDelta(changes map[types.Pubkey]*Account) error {
	if b.closed {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for pk, acc := range changes {
			if err := txn.Set(accountKey(pk), acc.Serialize()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (b *BadgerStore) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
