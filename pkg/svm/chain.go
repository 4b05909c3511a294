// Package svm: atomic instruction chains.
package svm

import (
	"encoding/json"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
)

// ChainResult is the outcome of executing an instruction chain. The
// embedded ExecutionResult aggregates the chain: the failing instruction's
// status (or success), compute units summed and logs concatenated across
// every executed instruction, and the union of referenced-account views.
// Steps holds the per-instruction results in execution order.
type ChainResult struct {
	ExecutionResult

	// Steps are the individual instruction results, one per executed
	// instruction. Instructions after a failure never run.
	Steps []*ExecutionResult `json:"steps,omitempty"`

	// FailedStep is the zero-based index of the failing instruction, or
	// -1 when the chain succeeded.
	FailedStep int `json:"failed_step"`
}

// Marshal serializes the chain result including the per-step results,
// shadowing the embedded result's serializer.
func (cr *ChainResult) Marshal() ([]byte, error) {
	return json.MarshalIndent(cr, "", "  ")
}

// Chain sequences instructions against one store as a single atomic unit.
// Each instruction operates on the cumulative state produced by its
// predecessors; the first failure discards every mutation in the chain,
// restoring the store to its pre-chain snapshot.
type Chain struct {
	proc *Processor
}

// NewChain creates a chain executor over the given processor.
func NewChain(proc *Processor) *Chain {
	return &Chain{proc: proc}
}

// Execute runs the instructions in order. On any failure the store is
// restored to its pre-chain state before returning; partial results from
// instructions that individually succeeded are never visible in the store.
func (c *Chain) Execute(ixs []Instruction, store accounts.Store) (*ChainResult, error) {
	if len(ixs) == 0 {
		return nil, ErrEmptyChain
	}

	snap, err := accounts.Snapshot(store)
	if err != nil {
		return nil, fmt.Errorf("pre-chain snapshot: %w", err)
	}

	cr := &ChainResult{FailedStep: -1}
	union := make(map[types.Pubkey]*AccountDelta)
	var order []types.Pubkey

	for i, ix := range ixs {
		res, err := c.proc.Process(ix, store)
		if err != nil {
			if rerr := accounts.Restore(store, snap); rerr != nil {
				return nil, fmt.Errorf("rollback after host failure: %v (original: %w)", rerr, err)
			}
			return nil, err
		}

		cr.Steps = append(cr.Steps, res)
		cr.ComputeUnits += res.ComputeUnits
		cr.Logs = append(cr.Logs, res.Logs...)

		for j := range res.Accounts {
			delta := res.Accounts[j]
			if existing, ok := union[delta.Pubkey]; ok {
				existing.Post = delta.Post
			} else {
				union[delta.Pubkey] = &AccountDelta{Pubkey: delta.Pubkey, Pre: delta.Pre, Post: delta.Post}
				order = append(order, delta.Pubkey)
			}
		}

		if !res.Status.Ok() {
			cr.FailedStep = i
			cr.Status = res.Status
			klog.V(2).Infof("chain failed at instruction %d: %s", i, res.Status)

			if err := accounts.Restore(store, snap); err != nil {
				return nil, fmt.Errorf("rollback after instruction %d: %w", i, err)
			}
			// The store is back at the pre-chain snapshot; the result's
			// account views must say the same.
			for _, pk := range order {
				pre := snap[pk].Clone()
				union[pk].Pre = pre
				union[pk].Post = pre.Clone()
			}
			break
		}
	}

	if cr.FailedStep == -1 {
		cr.Status = Success()
	}
	for _, pk := range order {
		cr.Accounts = append(cr.Accounts, *union[pk])
	}
	return cr, nil
}
