package svm_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/registry"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
	"github.com/fortiblox/X1-Crucible/pkg/svm/programs/system"
)

func newKey() types.Pubkey {
	pk := solana.NewWallet().PublicKey()
	var out types.Pubkey
	copy(out[:], pk.Bytes())
	return out
}

func newSystemProcessor(t *testing.T, opts svm.ProcessorOpts) *svm.Processor {
	t.Helper()
	reg := registry.New()
	require.NoError(t, system.Register(reg))
	return svm.NewProcessor(reg, opts)
}

func fundedStore(t *testing.T, balances map[types.Pubkey]uint64) *accounts.MemStore {
	t.Helper()
	store := accounts.NewMemStore()
	for pk, lamports := range balances {
		err := store.Put(pk, &accounts.Account{
			Lamports: lamports,
			Owner:    types.SystemProgramAddr,
		})
		require.NoError(t, err)
	}
	return store
}

func fingerprint(t *testing.T, store accounts.Store) types.Hash {
	t.Helper()
	fp, err := accounts.StoreFingerprint(store)
	require.NoError(t, err)
	return fp
}

func TestProcessTransfer(t *testing.T) {
	alice, bob := newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0})
	proc := newSystemProcessor(t, svm.ProcessorOpts{})

	res, err := proc.Process(system.NewTransferInstruction(alice, bob, 1_000), store)
	require.NoError(t, err)
	require.True(t, res.Status.Ok(), "status: %s", res.Status)
	require.NotZero(t, res.ComputeUnits)
	require.NotEmpty(t, res.Logs)

	// The result reports both views.
	post, ok := res.Account(alice)
	require.True(t, ok)
	require.Equal(t, uint64(9_000), post.Lamports)
	post, ok = res.Account(bob)
	require.True(t, ok)
	require.Equal(t, uint64(1_000), post.Lamports)

	// And the store committed them.
	acc, err := store.Get(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(9_000), acc.Lamports)
	acc, err = store.Get(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), acc.Lamports)
}

func TestProcessUnknownProgram(t *testing.T) {
	alice, bob := newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0})
	proc := svm.NewProcessor(registry.New(), svm.ProcessorOpts{})
	before := fingerprint(t, store)

	ix := system.NewTransferInstruction(alice, bob, 1_000)
	res, err := proc.Process(ix, store)
	require.NoError(t, err)
	require.Equal(t, svm.StatusUnknownProgram, res.Status.Kind)
	require.Equal(t, before, fingerprint(t, store), "store mutated by failed execution")
}

func TestProcessAccountNotFound(t *testing.T) {
	alice := newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000})
	proc := newSystemProcessor(t, svm.ProcessorOpts{})

	res, err := proc.Process(system.NewTransferInstruction(alice, newKey(), 1_000), store)
	require.NoError(t, err)
	require.Equal(t, svm.StatusAccountNotFound, res.Status.Kind)

	// The referenced account that does exist still appears in the result,
	// with its pre-state on both sides of the delta.
	post, ok := res.Account(alice)
	require.True(t, ok)
	require.Equal(t, uint64(10_000), post.Lamports)
}

func TestProcessDuplicateConflictingFlags(t *testing.T) {
	alice := newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000})
	proc := newSystemProcessor(t, svm.ProcessorOpts{})

	ix := svm.Instruction{
		ProgramID: system.ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: alice, IsSigner: true, IsWritable: true},
			{Pubkey: alice, IsWritable: true},
		},
		Data: []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
	res, err := proc.Process(ix, store)
	require.NoError(t, err)
	require.Equal(t, svm.StatusDuplicateAccount, res.Status.Kind)
}

func TestProcessDuplicateSharedView(t *testing.T) {
	programID := newKey()
	target := newKey()

	reg := registry.New()
	// Writes through index 0, reads back through index 1. Duplicates with
	// matching flags must observe one shared working copy.
	err := reg.RegisterNative(programID, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		first, err := ctx.Account(0)
		if err != nil {
			return err
		}
		if err := first.SetData([]byte{0xAB}); err != nil {
			return err
		}
		second, err := ctx.Account(1)
		if err != nil {
			return err
		}
		if len(second.Data()) != 1 || second.Data()[0] != 0xAB {
			return registry.ProgramError(99)
		}
		return nil
	}))
	require.NoError(t, err)

	store := accounts.NewMemStore()
	require.NoError(t, store.Put(target, &accounts.Account{Owner: programID}))

	proc := svm.NewProcessor(reg, svm.ProcessorOpts{})
	meta := svm.AccountMeta{Pubkey: target, IsWritable: true}
	res, err := proc.Process(svm.Instruction{
		ProgramID: programID,
		Accounts:  []svm.AccountMeta{meta, meta},
	}, store)
	require.NoError(t, err)
	require.True(t, res.Status.Ok(), "status: %s", res.Status)

	acc, err := store.Get(target)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAB}, acc.Data)
}

func TestProcessAccessViolations(t *testing.T) {
	alice, bob, stranger := newKey(), newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0})
	require.NoError(t, store.Put(stranger, &accounts.Account{Lamports: 5, Owner: newKey()}))
	proc := newSystemProcessor(t, svm.ProcessorOpts{})
	before := fingerprint(t, store)

	t.Run("writable without authorization", func(t *testing.T) {
		// stranger is owned by a foreign program and does not sign.
		res, err := proc.Process(system.NewTransferInstruction(alice, stranger, 1), store)
		require.NoError(t, err)
		require.Equal(t, svm.StatusAccessViolation, res.Status.Kind)
	})

	t.Run("executable marked writable", func(t *testing.T) {
		exe := newKey()
		require.NoError(t, store.Put(exe, &accounts.Account{
			Owner:      types.SystemProgramAddr,
			Executable: true,
		}))
		defer store.Delete(exe)

		res, err := proc.Process(system.NewTransferInstruction(alice, exe, 1), store)
		require.NoError(t, err)
		require.Equal(t, svm.StatusAccessViolation, res.Status.Kind)
	})

	t.Run("unauthorized signer", func(t *testing.T) {
		restricted := newSystemProcessor(t, svm.ProcessorOpts{Signers: []types.Pubkey{bob}})
		res, err := restricted.Process(system.NewTransferInstruction(alice, bob, 1), store)
		require.NoError(t, err)
		require.Equal(t, svm.StatusAccessViolation, res.Status.Kind)
	})

	require.Equal(t, before, fingerprint(t, store), "store mutated by rejected executions")
}

func TestProcessProgramErrorDiscarded(t *testing.T) {
	alice, bob := newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 500, bob: 0})
	proc := newSystemProcessor(t, svm.ProcessorOpts{})
	before := fingerprint(t, store)

	res, err := proc.Process(system.NewTransferInstruction(alice, bob, 1_000), store)
	require.NoError(t, err)
	require.Equal(t, svm.StatusProgramError, res.Status.Kind)
	require.Equal(t, system.CodeResultWithNegativeLamports, res.Status.Code)

	// Failed executions report pre-state views on both sides of the delta.
	for _, delta := range res.Accounts {
		require.True(t, delta.Pre.Equal(delta.Post), "delta for %s not neutral", delta.Pubkey)
	}
	require.Equal(t, before, fingerprint(t, store))
}

func TestProcessComputeExhaustion(t *testing.T) {
	alice, bob := newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0})
	// Below the native invocation base cost: the program never runs.
	proc := newSystemProcessor(t, svm.ProcessorOpts{ComputeUnitLimit: 100})
	before := fingerprint(t, store)

	res, err := proc.Process(system.NewTransferInstruction(alice, bob, 1_000), store)
	require.NoError(t, err)
	require.Equal(t, svm.StatusComputeExceeded, res.Status.Kind)
	require.Equal(t, uint64(100), res.ComputeUnits)
	require.Equal(t, before, fingerprint(t, store))
}

func TestProcessComputeExhaustionViaLogs(t *testing.T) {
	// Limit covers the native base cost plus 10 units: the first log line
	// overruns the budget.
	const limit = svm.CUNativeProgramBase + 10

	run := func(t *testing.T, program registry.NativeProgram) *svm.ExecutionResult {
		t.Helper()
		programID := newKey()
		reg := registry.New()
		require.NoError(t, reg.RegisterNative(programID, program))

		proc := svm.NewProcessor(reg, svm.ProcessorOpts{ComputeUnitLimit: limit})
		res, err := proc.Process(svm.Instruction{ProgramID: programID}, accounts.NewMemStore())
		require.NoError(t, err)
		return res
	}

	t.Run("program stops at the log error", func(t *testing.T) {
		res := run(t, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
			for i := 0; i < 1_000; i++ {
				if err := ctx.Log("spin"); err != nil {
					return err
				}
			}
			return nil
		}))
		require.Equal(t, svm.StatusComputeExceeded, res.Status.Kind)
		require.Equal(t, uint64(limit), res.ComputeUnits)
		// The overrunning line survives; nothing after it is captured.
		require.Equal(t, []string{"spin"}, res.Logs)
	})

	t.Run("program ignores the log error", func(t *testing.T) {
		res := run(t, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
			for i := 0; i < 1_000; i++ {
				ctx.Log("spin")
			}
			return nil
		}))
		require.Equal(t, svm.StatusComputeExceeded, res.Status.Kind)
		require.Equal(t, uint64(limit), res.ComputeUnits)
		require.Equal(t, []string{"spin"}, res.Logs)
	})
}

func TestProcessLamportConservation(t *testing.T) {
	mint := newKey()
	target := newKey()

	minter := registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		acc, err := ctx.Account(0)
		if err != nil {
			return err
		}
		return acc.SetLamports(acc.Lamports() + 1_000)
	})

	ix := svm.Instruction{
		ProgramID: mint,
		Accounts:  []svm.AccountMeta{{Pubkey: target, IsSigner: true, IsWritable: true}},
	}

	t.Run("non-authority", func(t *testing.T) {
		reg := registry.New()
		require.NoError(t, reg.RegisterNative(mint, minter))
		store := fundedStore(t, map[types.Pubkey]uint64{target: 10})
		before := fingerprint(t, store)

		proc := svm.NewProcessor(reg, svm.ProcessorOpts{})
		_, err := proc.Process(ix, store)
		require.ErrorIs(t, err, svm.ErrHostInvariant)
		require.Equal(t, before, fingerprint(t, store), "store mutated by aborted execution")
	})

	t.Run("configured authority", func(t *testing.T) {
		reg := registry.New()
		require.NoError(t, reg.RegisterNative(mint, minter))
		store := fundedStore(t, map[types.Pubkey]uint64{target: 10})

		proc := svm.NewProcessor(reg, svm.ProcessorOpts{
			BalanceAuthorities: []types.Pubkey{mint},
		})
		res, err := proc.Process(ix, store)
		require.NoError(t, err)
		require.True(t, res.Status.Ok(), "status: %s", res.Status)

		acc, err := store.Get(target)
		require.NoError(t, err)
		require.Equal(t, uint64(1_010), acc.Lamports)
	})
}

func TestProcessConservationSumOverflow(t *testing.T) {
	programID := newKey()
	a, b := newKey(), newKey()

	// Zeroes every account. With two balances of 2^63 the uint64 lamport
	// sum wraps to zero pre-execution, which must not mask the burn.
	burner := registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		for i := 0; i < ctx.NumAccounts(); i++ {
			acc, err := ctx.Account(i)
			if err != nil {
				return err
			}
			if err := acc.SetLamports(0); err != nil {
				return err
			}
		}
		return nil
	})

	reg := registry.New()
	require.NoError(t, reg.RegisterNative(programID, burner))
	store := fundedStore(t, map[types.Pubkey]uint64{a: 1 << 63, b: 1 << 63})

	proc := svm.NewProcessor(reg, svm.ProcessorOpts{})
	_, err := proc.Process(svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			{Pubkey: a, IsSigner: true, IsWritable: true},
			{Pubkey: b, IsSigner: true, IsWritable: true},
		},
	}, store)
	require.ErrorIs(t, err, svm.ErrHostInvariant)
}

func TestProcessReadOnlyAliasMutation(t *testing.T) {
	programID := newKey()
	victim := newKey()

	reg := registry.New()
	// Scribbles on the raw data slice of a read-only account, bypassing the
	// gated setters.
	err := reg.RegisterNative(programID, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		acc, err := ctx.Account(0)
		if err != nil {
			return err
		}
		acc.Data()[0] = 0xFF
		return nil
	}))
	require.NoError(t, err)

	store := accounts.NewMemStore()
	require.NoError(t, store.Put(victim, &accounts.Account{Data: []byte{0}, Owner: programID}))

	proc := svm.NewProcessor(reg, svm.ProcessorOpts{})
	_, err = proc.Process(svm.Instruction{
		ProgramID: programID,
		Accounts:  []svm.AccountMeta{{Pubkey: victim}},
	}, store)
	require.ErrorIs(t, err, svm.ErrHostInvariant)
}

func TestProcessNonOwnerDataMutation(t *testing.T) {
	programID := newKey()
	foreign := newKey()
	victim := newKey()

	reg := registry.New()
	err := reg.RegisterNative(programID, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		acc, err := ctx.Account(0)
		if err != nil {
			return err
		}
		return acc.SetData([]byte{1, 2, 3})
	}))
	require.NoError(t, err)

	store := accounts.NewMemStore()
	require.NoError(t, store.Put(victim, &accounts.Account{Owner: foreign}))
	before := fingerprint(t, store)

	proc := svm.NewProcessor(reg, svm.ProcessorOpts{})
	// The signer flag grants writability, but data stays owner-gated.
	res, err := proc.Process(svm.Instruction{
		ProgramID: programID,
		Accounts:  []svm.AccountMeta{{Pubkey: victim, IsSigner: true, IsWritable: true}},
	}, store)
	require.NoError(t, err)
	require.Equal(t, svm.StatusAccessViolation, res.Status.Kind)
	require.Equal(t, before, fingerprint(t, store))
}

func TestProcessFailureLogsSurvive(t *testing.T) {
	programID := newKey()

	reg := registry.New()
	err := reg.RegisterNative(programID, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		ctx.Log("about to fail")
		return registry.ProgramError(7)
	}))
	require.NoError(t, err)

	proc := svm.NewProcessor(reg, svm.ProcessorOpts{})
	res, err := proc.Process(svm.Instruction{ProgramID: programID}, accounts.NewMemStore())
	require.NoError(t, err)
	require.Equal(t, svm.StatusProgramError, res.Status.Kind)
	require.Equal(t, uint64(7), res.Status.Code)
	require.Equal(t, []string{"about to fail"}, res.Logs)
}
