package svm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/registry"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
	"github.com/fortiblox/X1-Crucible/pkg/svm/programs/system"
)

func TestChainSuccess(t *testing.T) {
	alice, bob, carol := newKey(), newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0, carol: 0})
	chain := svm.NewChain(newSystemProcessor(t, svm.ProcessorOpts{}))

	res, err := chain.Execute([]svm.Instruction{
		system.NewTransferInstruction(alice, bob, 3_000),
		system.NewTransferInstruction(bob, carol, 1_000),
		system.NewTransferInstruction(carol, alice, 500),
	}, store)
	require.NoError(t, err)
	require.True(t, res.Status.Ok(), "status: %s", res.Status)
	require.Equal(t, -1, res.FailedStep)
	require.Len(t, res.Steps, 3)

	// Aggregates sum over the executed instructions.
	var stepUnits uint64
	var stepLogs int
	for _, step := range res.Steps {
		stepUnits += step.ComputeUnits
		stepLogs += len(step.Logs)
	}
	require.Equal(t, stepUnits, res.ComputeUnits)
	require.Len(t, res.Logs, stepLogs)

	// Each instruction saw its predecessors' effects.
	want := map[types.Pubkey]uint64{alice: 7_500, bob: 2_000, carol: 500}
	for pk, lamports := range want {
		acc, err := store.Get(pk)
		require.NoError(t, err)
		require.Equal(t, lamports, acc.Lamports, "balance of %s", pk)

		post, ok := res.Account(pk)
		require.True(t, ok)
		require.Equal(t, lamports, post.Lamports, "result view of %s", pk)
	}
}

func TestChainRollback(t *testing.T) {
	alice, bob, carol := newKey(), newKey(), newKey()
	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0, carol: 0})
	chain := svm.NewChain(newSystemProcessor(t, svm.ProcessorOpts{}))
	before := fingerprint(t, store)

	res, err := chain.Execute([]svm.Instruction{
		system.NewTransferInstruction(alice, bob, 3_000),
		system.NewTransferInstruction(bob, carol, 5_000), // exceeds bob's balance
		system.NewTransferInstruction(carol, alice, 500),
	}, store)
	require.NoError(t, err)
	require.Equal(t, 1, res.FailedStep)
	require.Equal(t, svm.StatusProgramError, res.Status.Kind)
	require.Equal(t, system.CodeResultWithNegativeLamports, res.Status.Code)

	// The instruction after the failure never ran.
	require.Len(t, res.Steps, 2)
	require.True(t, res.Steps[0].Status.Ok())

	// The first transfer individually succeeded, yet the store is
	// byte-identical to its pre-chain state.
	require.Equal(t, before, fingerprint(t, store))

	// The result's account views agree with the restored store.
	for _, delta := range res.Accounts {
		require.True(t, delta.Pre.Equal(delta.Post), "delta for %s not neutral", delta.Pubkey)
		acc, err := store.Get(delta.Pubkey)
		require.NoError(t, err)
		require.True(t, acc.Equal(delta.Post), "view of %s disagrees with store", delta.Pubkey)
	}
}

func TestChainRollbackAtEveryStep(t *testing.T) {
	alice, bob := newKey(), newKey()

	for fail := 0; fail < 3; fail++ {
		store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0})
		chain := svm.NewChain(newSystemProcessor(t, svm.ProcessorOpts{}))
		before := fingerprint(t, store)

		ixs := []svm.Instruction{
			system.NewTransferInstruction(alice, bob, 100),
			system.NewTransferInstruction(alice, bob, 100),
			system.NewTransferInstruction(alice, bob, 100),
		}
		ixs[fail] = system.NewTransferInstruction(alice, bob, 1_000_000)

		res, err := chain.Execute(ixs, store)
		require.NoError(t, err)
		require.Equal(t, fail, res.FailedStep)
		require.Equal(t, before, fingerprint(t, store), "failure at step %d leaked state", fail)
	}
}

func TestChainEmpty(t *testing.T) {
	chain := svm.NewChain(newSystemProcessor(t, svm.ProcessorOpts{}))
	_, err := chain.Execute(nil, accounts.NewMemStore())
	require.ErrorIs(t, err, svm.ErrEmptyChain)
}

func TestChainHostFailureRestores(t *testing.T) {
	mint, target := newKey(), newKey()
	alice, bob := newKey(), newKey()

	reg := registry.New()
	require.NoError(t, system.Register(reg))
	err := reg.RegisterNative(mint, registry.NativeProgramFunc(func(ctx registry.InvokeContext) error {
		acc, err := ctx.Account(0)
		if err != nil {
			return err
		}
		return acc.SetLamports(acc.Lamports() + 1)
	}))
	require.NoError(t, err)

	store := fundedStore(t, map[types.Pubkey]uint64{alice: 10_000, bob: 0, target: 10})
	chain := svm.NewChain(svm.NewProcessor(reg, svm.ProcessorOpts{}))
	before := fingerprint(t, store)

	_, err = chain.Execute([]svm.Instruction{
		system.NewTransferInstruction(alice, bob, 3_000),
		{
			ProgramID: mint,
			Accounts:  []svm.AccountMeta{{Pubkey: target, IsSigner: true, IsWritable: true}},
		},
	}, store)
	require.ErrorIs(t, err, svm.ErrHostInvariant)
	require.Equal(t, before, fingerprint(t, store), "host failure leaked chain state")
}
