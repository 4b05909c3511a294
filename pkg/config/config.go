// Package config loads harness configuration from TOML.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
)

// Config is the harness-wide configuration.
type Config struct {
	// ComputeUnitLimit is the per-execution compute budget.
	// Zero means the engine default.
	ComputeUnitLimit uint64 `toml:"compute_unit_limit"`

	// BalanceAuthorities are base58 addresses of programs exempt from the
	// lamport conservation invariant. Empty means the System Program.
	BalanceAuthorities []string `toml:"balance_authorities"`

	// Signers, when non-empty, restricts recognized signers to the listed
	// base58 addresses. Empty trusts the caller's account metas.
	Signers []string `toml:"signers"`

	// JournalPath, when set, enables the bbolt result journal.
	JournalPath string `toml:"journal_path"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{}
}

// Load reads a TOML configuration file.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.ProcessorOpts(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ProcessorOpts converts the configuration into processor options,
// validating every listed address.
func (c Config) ProcessorOpts() (svm.ProcessorOpts, error) {
	opts := svm.ProcessorOpts{
		ComputeUnitLimit: c.ComputeUnitLimit,
	}

	if len(c.BalanceAuthorities) > 0 {
		opts.BalanceAuthorities = make([]types.Pubkey, 0, len(c.BalanceAuthorities))
		for _, s := range c.BalanceAuthorities {
			pk, err := types.PubkeyFromBase58(s)
			if err != nil {
				return svm.ProcessorOpts{}, fmt.Errorf("balance authority %q: %w", s, err)
			}
			opts.BalanceAuthorities = append(opts.BalanceAuthorities, pk)
		}
	}

	if len(c.Signers) > 0 {
		opts.Signers = make([]types.Pubkey, 0, len(c.Signers))
		for _, s := range c.Signers {
			pk, err := types.PubkeyFromBase58(s)
			if err != nil {
				return svm.ProcessorOpts{}, fmt.Errorf("signer %q: %w", s, err)
			}
			opts.Signers = append(opts.Signers, pk)
		}
	}

	return opts, nil
}
