// Package svm implements the instruction-execution engine of X1-Crucible.
//
// The engine simulates Solana-style instruction execution against an
// in-memory account store, entirely in-process and deterministically:
// - account resolution and access-control validation
// - metered black-box program invocation under a compute budget
// - lamport conservation enforcement
// - atomic commit of account deltas, full discard on failure
// - atomic multi-instruction chains with all-or-nothing rollback
//
// Execution is single-threaded and synchronous. One instruction (or one
// chain) runs to completion before its result is observable; the only
// bounded-duration construct is the compute budget, which acts as a
// cooperative cancellation mechanism. Parallel test execution uses
// independent Processor and Store instances.
package svm

import (
	"errors"
)

var (
	// ErrAccountNotWritable is returned to program code that mutates a
	// read-only account.
	ErrAccountNotWritable = errors.New("account not writable")

	// ErrExecutableDataModified is returned to program code that mutates
	// an executable account's data.
	ErrExecutableDataModified = errors.New("executable account data is immutable")

	// ErrHostInvariant signals an engine or environment defect, such as
	// lamport non-conservation. It is fatal to the execution and is never
	// reported as an ordinary result status.
	ErrHostInvariant = errors.New("host invariant violation")

	// ErrEmptyChain is returned when executing a chain with no
	// instructions.
	ErrEmptyChain = errors.New("empty instruction chain")
)
