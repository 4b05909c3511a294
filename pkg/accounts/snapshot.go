// Package accounts provides fixture snapshots: account sets saved to disk
// and loaded into a store before a run.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

// Fixture is an on-disk account set. The file format is zstd-compressed
// JSON keyed by base58 pubkey, so fixtures stay hand-editable once
// decompressed.
type Fixture map[types.Pubkey]*Account

// WriteFixture saves a fixture to path.
func WriteFixture(path string, fixture Fixture) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create fixture: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	if err := json.NewEncoder(encoder).Encode(fixture); err != nil {
		encoder.Close()
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("flush fixture: %w", err)
	}
	return file.Sync()
}

// ReadFixture loads a fixture from path.
func ReadFixture(path string) (Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var fixture Fixture
	if err := json.NewDecoder(decoder).Decode(&fixture); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return fixture, nil
}

// LoadFixture reads a fixture file and puts every account into the store.
func LoadFixture(s Store, path string) error {
	fixture, err := ReadFixture(path)
	if err != nil {
		return err
	}
	for pk, acc := range fixture {
		if err := s.Put(pk, acc); err != nil {
			return fmt.Errorf("load account %s: %w", pk.String(), err)
		}
	}
	return nil
}
