// Package svm: the instruction processor.
package svm

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/registry"
)

// ProcessorOpts configures a Processor.
type ProcessorOpts struct {
	// ComputeUnitLimit is the per-execution compute budget.
	// Zero means CUDefault.
	ComputeUnitLimit uint64

	// BalanceAuthorities are the programs exempt from the lamport
	// conservation invariant. Nil means exactly the System Program.
	BalanceAuthorities []types.Pubkey

	// Signers, when non-nil, is the set of keys recognized as having
	// authorized the execution; signer-flagged metas outside the set fail
	// with an access violation. Nil trusts the caller's metas, which is
	// the normal harness mode: the caller is the transaction author.
	Signers []types.Pubkey
}

// Processor executes single instructions against an account store.
type Processor struct {
	registry    *registry.Registry
	limit       uint64
	authorities map[types.Pubkey]bool
	signers     map[types.Pubkey]bool // nil = trust metas
}

// NewProcessor creates a Processor over the given registry.
func NewProcessor(reg *registry.Registry, opts ProcessorOpts) *Processor {
	limit := opts.ComputeUnitLimit
	if limit == 0 {
		limit = CUDefault
	}

	authorities := make(map[types.Pubkey]bool)
	if opts.BalanceAuthorities == nil {
		authorities[types.SystemProgramAddr] = true
	} else {
		for _, pk := range opts.BalanceAuthorities {
			authorities[pk] = true
		}
	}

	var signers map[types.Pubkey]bool
	if opts.Signers != nil {
		signers = make(map[types.Pubkey]bool, len(opts.Signers))
		for _, pk := range opts.Signers {
			signers[pk] = true
		}
	}

	return &Processor{
		registry:    reg,
		limit:       limit,
		authorities: authorities,
		signers:     signers,
	}
}

// Process executes one instruction against the store.
//
// Resolution failures, access violations, program errors and compute
// exhaustion are ordinary outcomes reported in the result's status with
// nothing committed. A non-nil error is reserved for host-level failures:
// store I/O, engine misconfiguration, and ErrHostInvariant when a
// non-authority program breaks lamport conservation.
func (p *Processor) Process(ix Instruction, store accounts.Store) (*ExecutionResult, error) {
	// Step 1: resolve every account meta against the store.
	resolved, unique, status, err := p.resolveAccounts(ix, store)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return failedResult(bestEffortViews(ix, store), *status, 0, nil), nil
	}

	// Step 2: validate access rules before any program code runs.
	if status := p.validateAccess(ix, unique); status != nil {
		return failedResult(unique, *status, 0, nil), nil
	}

	// Step 3: snapshot pre-execution state for conservation and rollback.
	// Lamport sums are kept as 128-bit values so fixture balances near the
	// uint64 ceiling cannot wrap past the conservation check.
	var preLo, preHi uint64
	for _, ra := range unique {
		ra.pre = ra.account.Clone()
		var carry uint64
		preLo, carry = bits.Add64(preLo, ra.account.Lamports, 0)
		preHi += carry
	}

	// Step 4: resolve the target program.
	handle, err := p.registry.Resolve(ix.ProgramID)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownProgram) {
			status := Status{Kind: StatusUnknownProgram, Message: ix.ProgramID.String()}
			return failedResult(unique, status, 0, nil), nil
		}
		return nil, err
	}

	// Step 5: invoke under the compute budget.
	meter := NewComputeMeter(p.limit)
	ctx := newInvokeContext(ix.ProgramID, ix.Data, resolved, meter)

	klog.V(2).Infof("invoking %s program %s with %d accounts, %d byte payload",
		handle.Kind, ix.ProgramID, len(resolved), len(ix.Data))

	baseCost := CUNativeProgramBase
	if handle.Kind != registry.LoaderNative {
		baseCost = CUSBPFProgramBase
	}

	var execErr error
	if err := meter.Consume(baseCost); err != nil {
		execErr = err
	} else {
		execErr = handle.Invoke(ctx)
		if execErr == nil {
			// A program may swallow the error from a metered operation;
			// the recorded overrun still fails the execution.
			execErr = ctx.meterErr
		}
	}

	if execErr != nil {
		// Step 7: discard all pending mutations.
		status := statusFromExecError(execErr)
		klog.V(2).Infof("program %s failed: %s", ix.ProgramID, status)
		return failedResult(unique, status, meter.Consumed(), ctx.logs), nil
	}

	// Step 6: post-state host validation, then commit.
	var postLo, postHi uint64
	changes := make(map[types.Pubkey]*accounts.Account)
	for _, ra := range unique {
		var carry uint64
		postLo, carry = bits.Add64(postLo, ra.account.Lamports, 0)
		postHi += carry

		changed := !ra.account.Equal(ra.pre)
		if changed && !ra.isWritable {
			return nil, fmt.Errorf("%w: read-only account %s mutated", ErrHostInvariant, ra.key)
		}
		dataChanged := changed && !bytes.Equal(ra.account.Data, ra.pre.Data)
		if dataChanged && !ra.pre.Executable && ra.pre.Owner != ix.ProgramID {
			status := Status{
				Kind:    StatusAccessViolation,
				Message: fmt.Sprintf("account %s data mutated by non-owner program %s", ra.key, ix.ProgramID),
			}
			return failedResult(unique, status, meter.Consumed(), ctx.logs), nil
		}
		if changed {
			changes[ra.key] = ra.account
		}
	}

	if (preLo != postLo || preHi != postHi) && !p.authorities[ix.ProgramID] {
		return nil, fmt.Errorf("%w: lamports not conserved by program %s: pre=%d+%d<<64 post=%d+%d<<64",
			ErrHostInvariant, ix.ProgramID, preLo, preHi, postLo, postHi)
	}

	if err := store.ApplyDelta(changes); err != nil {
		return nil, fmt.Errorf("commit delta: %w", err)
	}

	result := &ExecutionResult{
		Status:       Success(),
		ComputeUnits: meter.Consumed(),
		Logs:         ctx.logs,
	}
	for _, ra := range unique {
		result.Accounts = append(result.Accounts, AccountDelta{
			Pubkey: ra.key,
			Pre:    ra.pre,
			Post:   ra.account.Clone(),
		})
	}
	klog.V(2).Infof("program %s succeeded: %d CU, %d accounts modified",
		ix.ProgramID, meter.Consumed(), len(changes))
	return result, nil
}

// resolveAccounts resolves every meta against the store. Duplicates of one
// address are allowed when their flags agree and share one working copy;
// conflicting flags are a duplicate-resolution failure.
func (p *Processor) resolveAccounts(ix Instruction, store accounts.Store) ([]*resolvedAccount, []*resolvedAccount, *Status, error) {
	resolved := make([]*resolvedAccount, len(ix.Accounts))
	unique := make([]*resolvedAccount, 0, len(ix.Accounts))
	byKey := make(map[types.Pubkey]*resolvedAccount, len(ix.Accounts))

	for i, meta := range ix.Accounts {
		if prev, ok := byKey[meta.Pubkey]; ok {
			if prev.isSigner != meta.IsSigner || prev.isWritable != meta.IsWritable {
				status := Status{
					Kind:    StatusDuplicateAccount,
					Message: fmt.Sprintf("account %s referenced twice with conflicting flags", meta.Pubkey),
				}
				return nil, nil, &status, nil
			}
			resolved[i] = prev
			continue
		}

		acc, err := store.Get(meta.Pubkey)
		if err != nil {
			if errors.Is(err, accounts.ErrAccountNotFound) {
				status := Status{
					Kind:    StatusAccountNotFound,
					Message: meta.Pubkey.String(),
				}
				return nil, nil, &status, nil
			}
			return nil, nil, nil, fmt.Errorf("resolve account %s: %w", meta.Pubkey, err)
		}

		ra := &resolvedAccount{
			key:        meta.Pubkey,
			account:    acc,
			isSigner:   meta.IsSigner,
			isWritable: meta.IsWritable,
		}
		resolved[i] = ra
		unique = append(unique, ra)
		byKey[meta.Pubkey] = ra
	}

	return resolved, unique, nil, nil
}

// validateAccess enforces the writability and signer rules. A writable
// account must be owned by the target program or be an explicit signer; an
// executable account is never writable. When a signer set is configured,
// signer-flagged metas outside it are rejected.
func (p *Processor) validateAccess(ix Instruction, unique []*resolvedAccount) *Status {
	for _, ra := range unique {
		if ra.isWritable {
			if ra.account.Executable {
				return &Status{
					Kind:    StatusAccessViolation,
					Message: fmt.Sprintf("executable account %s marked writable", ra.key),
				}
			}
			if ra.account.Owner != ix.ProgramID && !ra.isSigner {
				return &Status{
					Kind: StatusAccessViolation,
					Message: fmt.Sprintf("account %s writable without owner or signer authorization (owner %s, program %s)",
						ra.key, ra.account.Owner, ix.ProgramID),
				}
			}
		}
		if ra.isSigner && p.signers != nil && !p.signers[ra.key] {
			return &Status{
				Kind:    StatusAccessViolation,
				Message: fmt.Sprintf("account %s flagged as signer without authorization", ra.key),
			}
		}
	}
	return nil
}

// bestEffortViews resolves whatever metas it can so a result built for a
// resolution failure still reports every referenced account that does exist
// in the store.
func bestEffortViews(ix Instruction, store accounts.Store) []*resolvedAccount {
	var views []*resolvedAccount
	seen := make(map[types.Pubkey]bool, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		if seen[meta.Pubkey] {
			continue
		}
		seen[meta.Pubkey] = true
		acc, err := store.Get(meta.Pubkey)
		if err != nil {
			continue
		}
		views = append(views, &resolvedAccount{
			key:        meta.Pubkey,
			account:    acc,
			isSigner:   meta.IsSigner,
			isWritable: meta.IsWritable,
		})
	}
	return views
}

// failedResult builds a result for a failed execution: nothing committed,
// post views equal pre views.
func failedResult(unique []*resolvedAccount, status Status, consumed uint64, logs []string) *ExecutionResult {
	result := &ExecutionResult{
		Status:       status,
		ComputeUnits: consumed,
		Logs:         logs,
	}
	for _, ra := range unique {
		pre := ra.pre
		if pre == nil {
			pre = ra.account.Clone()
		}
		result.Accounts = append(result.Accounts, AccountDelta{
			Pubkey: ra.key,
			Pre:    pre,
			Post:   pre.Clone(),
		})
	}
	return result
}

// statusFromExecError maps a program invocation error to a result status.
func statusFromExecError(err error) Status {
	var pe registry.ProgramError
	switch {
	case errors.Is(err, ErrComputeExceeded):
		return Status{Kind: StatusComputeExceeded, Message: err.Error()}
	case errors.As(err, &pe):
		return ProgramFailure(uint64(pe))
	case errors.Is(err, ErrAccountNotWritable), errors.Is(err, ErrExecutableDataModified):
		return Status{Kind: StatusAccessViolation, Message: err.Error()}
	default:
		return Status{Kind: StatusProgramError, Message: err.Error()}
	}
}
