package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/checks"
	"github.com/fortiblox/X1-Crucible/pkg/registry"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
	"github.com/fortiblox/X1-Crucible/pkg/svm/programs/system"
)

// Scenario is one declarative harness run: initial accounts, registered
// programs, an instruction chain and the checks to evaluate against the
// outcome.
type Scenario struct {
	// Name labels the run in output and in the journal.
	Name string `toml:"name"`

	// Fixture optionally seeds the store from a fixture file before the
	// inline accounts are applied.
	Fixture string `toml:"fixture"`

	// Accounts are the inline initial accounts, keyed by base58 address.
	Accounts map[string]ScenarioAccount `toml:"accounts"`

	// Programs are BPF programs to register before execution. The System
	// Program is always registered.
	Programs []ScenarioProgram `toml:"programs"`

	// Instructions is the chain to execute, in order.
	Instructions []ScenarioInstruction `toml:"instructions"`

	// Checks are evaluated against the chain result.
	Checks []ScenarioCheck `toml:"checks"`
}

// ScenarioAccount is one initial account.
type ScenarioAccount struct {
	Lamports   uint64 `toml:"lamports"`
	Owner      string `toml:"owner"`
	Data       string `toml:"data"` // hex
	Executable bool   `toml:"executable"`
}

// ScenarioProgram is one program registration.
type ScenarioProgram struct {
	Address string `toml:"address"`
	Path    string `toml:"path"` // ELF file
}

// ScenarioInstruction is one instruction of the chain.
type ScenarioInstruction struct {
	ProgramID string            `toml:"program_id"`
	Data      string            `toml:"data"` // hex
	Accounts  []ScenarioAccMeta `toml:"accounts"`
}

// ScenarioAccMeta is one instruction account reference.
type ScenarioAccMeta struct {
	Pubkey   string `toml:"pubkey"`
	Signer   bool   `toml:"signer"`
	Writable bool   `toml:"writable"`
}

// ScenarioCheck is one declarative assertion. Type selects the variant;
// the other fields apply per variant.
type ScenarioCheck struct {
	Type       string `toml:"type"`
	Status     string `toml:"status"`
	Code       uint64 `toml:"code"`
	MaxUnits   uint64 `toml:"max_units"`
	Pubkey     string `toml:"pubkey"`
	Lamports   uint64 `toml:"lamports"`
	Data       string `toml:"data"` // hex
	Owner      string `toml:"owner"`
	Executable bool   `toml:"executable"`
}

// loadScenario reads and validates a scenario file.
func loadScenario(path string) (*Scenario, error) {
	var sc Scenario
	if _, err := toml.DecodeFile(path, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	if len(sc.Instructions) == 0 {
		return nil, fmt.Errorf("scenario %s: no instructions", sc.Name)
	}
	return &sc, nil
}

// buildStore seeds a fresh in-memory store from the scenario.
func (sc *Scenario) buildStore() (*accounts.MemStore, error) {
	store := accounts.NewMemStore()
	if sc.Fixture != "" {
		if err := accounts.LoadFixture(store, sc.Fixture); err != nil {
			return nil, fmt.Errorf("load fixture %s: %w", sc.Fixture, err)
		}
	}

	for addr, sa := range sc.Accounts {
		pk, err := types.PubkeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("account address %q: %w", addr, err)
		}
		acc := &accounts.Account{
			Lamports:   sa.Lamports,
			Executable: sa.Executable,
			Owner:      types.SystemProgramAddr,
		}
		if sa.Owner != "" {
			if acc.Owner, err = types.PubkeyFromBase58(sa.Owner); err != nil {
				return nil, fmt.Errorf("account %s owner: %w", addr, err)
			}
		}
		if sa.Data != "" {
			if acc.Data, err = hex.DecodeString(sa.Data); err != nil {
				return nil, fmt.Errorf("account %s data: %w", addr, err)
			}
		}
		if err := store.Put(pk, acc); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// buildRegistry registers the System Program plus every scenario program.
func (sc *Scenario) buildRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := system.Register(reg); err != nil {
		return nil, err
	}

	for _, sp := range sc.Programs {
		pk, err := types.PubkeyFromBase58(sp.Address)
		if err != nil {
			return nil, fmt.Errorf("program address %q: %w", sp.Address, err)
		}
		image, err := os.ReadFile(sp.Path)
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", sp.Address, err)
		}
		if err := reg.Register(pk, image, registry.LoaderSBPF); err != nil {
			return nil, fmt.Errorf("register program %s: %w", sp.Address, err)
		}
	}
	return reg, nil
}

// buildInstructions converts the scenario chain to engine instructions.
func (sc *Scenario) buildInstructions() ([]svm.Instruction, error) {
	ixs := make([]svm.Instruction, 0, len(sc.Instructions))
	for i, si := range sc.Instructions {
		pk, err := types.PubkeyFromBase58(si.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("instruction %d program: %w", i, err)
		}
		ix := svm.Instruction{ProgramID: pk}
		if si.Data != "" {
			if ix.Data, err = hex.DecodeString(si.Data); err != nil {
				return nil, fmt.Errorf("instruction %d data: %w", i, err)
			}
		}
		for _, sm := range si.Accounts {
			mpk, err := types.PubkeyFromBase58(sm.Pubkey)
			if err != nil {
				return nil, fmt.Errorf("instruction %d account %q: %w", i, sm.Pubkey, err)
			}
			ix.Accounts = append(ix.Accounts, svm.AccountMeta{
				Pubkey:     mpk,
				IsSigner:   sm.Signer,
				IsWritable: sm.Writable,
			})
		}
		ixs = append(ixs, ix)
	}
	return ixs, nil
}

// buildChecks converts the scenario checks to engine checks.
func (sc *Scenario) buildChecks() ([]checks.Check, error) {
	list := make([]checks.Check, 0, len(sc.Checks))
	for i, c := range sc.Checks {
		check, err := c.build()
		if err != nil {
			return nil, fmt.Errorf("check %d: %w", i, err)
		}
		list = append(list, check)
	}
	return list, nil
}

func (c ScenarioCheck) build() (checks.Check, error) {
	switch c.Type {
	case "status":
		var kind svm.StatusKind
		if err := kind.UnmarshalText([]byte(c.Status)); err != nil {
			return checks.Check{}, err
		}
		return checks.StatusIs(svm.Status{Kind: kind, Code: c.Code}), nil

	case "compute_units":
		return checks.ComputeUnitsWithin(c.MaxUnits), nil

	case "account_balance":
		pk, err := types.PubkeyFromBase58(c.Pubkey)
		if err != nil {
			return checks.Check{}, err
		}
		return checks.AccountBalance(pk, c.Lamports), nil

	case "account_data":
		pk, err := types.PubkeyFromBase58(c.Pubkey)
		if err != nil {
			return checks.Check{}, err
		}
		data, err := hex.DecodeString(c.Data)
		if err != nil {
			return checks.Check{}, err
		}
		return checks.AccountData(pk, data), nil

	case "account_owner":
		pk, err := types.PubkeyFromBase58(c.Pubkey)
		if err != nil {
			return checks.Check{}, err
		}
		owner, err := types.PubkeyFromBase58(c.Owner)
		if err != nil {
			return checks.Check{}, err
		}
		return checks.AccountOwner(pk, owner), nil

	case "account_executable":
		pk, err := types.PubkeyFromBase58(c.Pubkey)
		if err != nil {
			return checks.Check{}, err
		}
		return checks.AccountExecutable(pk, c.Executable), nil

	default:
		return checks.Check{}, fmt.Errorf("unrecognized check type %q", c.Type)
	}
}
