// Package journal persists execution results for diagnostic reporting.
//
// Results are the engine's sole returned artifact; the journal keeps their
// serialized form across a test-suite run so failures can be inspected after
// the fact. Storage is a bbolt file with one bucket per scenario and
// monotonically increasing sequence keys. Each record carries a keccak
// digest of the serialized result, so two runs of a deterministic scenario
// are comparable by digest alone.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
)

var (
	// ErrNotFound is returned when a journal entry doesn't exist.
	ErrNotFound = errors.New("journal entry not found")
)

// rootBucket holds one nested bucket per scenario.
var rootBucket = []byte("results")

// Entry is one journaled execution result.
type Entry struct {
	// Seq is the entry's sequence number within its scenario.
	Seq uint64 `json:"seq"`

	// Scenario names the run that produced the result.
	Scenario string `json:"scenario"`

	// Digest is the keccak-256 digest of the serialized result.
	Digest types.Hash `json:"digest"`

	// Result is the serialized execution result.
	Result json.RawMessage `json:"result"`
}

// Journal is a bbolt-backed result journal.
type Journal struct {
	db *bolt.DB
}

// Open opens (or creates) a journal file.
func Open(path string) (*Journal, error) {
	opts := &bolt.Options{Timeout: time.Second}
	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends a result under the scenario name.
func (j *Journal) Record(scenario string, result *svm.ExecutionResult) (*Entry, error) {
	payload, err := result.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serialize result: %w", err)
	}

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(payload)
	var digest types.Hash
	copy(digest[:], hasher.Sum(nil))

	entry := &Entry{
		Scenario: scenario,
		Digest:   digest,
		Result:   payload,
	}

	err = j.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(scenario))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq

		value, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), value)
	})
	if err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	return entry, nil
}

// Get returns one entry by scenario and sequence number.
func (j *Journal) Get(scenario string, seq uint64) (*Entry, error) {
	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket([]byte(scenario))
		if bucket == nil {
			return ErrNotFound
		}
		value := bucket.Get(seqKey(seq))
		if value == nil {
			return ErrNotFound
		}
		entry = new(Entry)
		return json.Unmarshal(value, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns every entry recorded under scenario, in sequence order.
func (j *Journal) List(scenario string) ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket([]byte(scenario))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			entry := new(Entry)
			if err := json.Unmarshal(value, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Scenarios returns the names of all journaled scenarios.
func (j *Journal) Scenarios() ([]string, error) {
	var names []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEachBucket(func(name []byte) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// seqKey encodes a sequence number as a sortable 8-byte key.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
