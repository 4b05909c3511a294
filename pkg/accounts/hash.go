// Package accounts provides fingerprinting of account state.
package accounts

import (
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

// AccountDigest computes the blake3 digest of a single account record.
// Input: serialized account fields followed by the pubkey, so two accounts
// with identical contents at different addresses hash differently.
func AccountDigest(pubkey types.Pubkey, account *Account) types.Hash {
	h := blake3.New()
	h.Write(account.Serialize())
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// StoreFingerprint computes a digest over the entire store: the blake3 hash
// of all account digests ordered by pubkey. Two stores with byte-identical
// contents produce the same fingerprint, which is how the chain executor's
// rollback guarantee is verified.
func StoreFingerprint(s Store) (types.Hash, error) {
	keys, err := s.Pubkeys()
	if err != nil {
		return types.Hash{}, err
	}
	sort.Slice(keys, func(i, j int) bool {
		for b := 0; b < types.PubkeySize; b++ {
			if keys[i][b] != keys[j][b] {
				return keys[i][b] < keys[j][b]
			}
		}
		return false
	})

	h := blake3.New()
	for _, pk := range keys {
		acc, err := s.Get(pk)
		if err != nil {
			return types.Hash{}, err
		}
		digest := AccountDigest(pk, acc)
		h.Write(digest[:])
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
