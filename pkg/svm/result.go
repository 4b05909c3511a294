// Package svm: execution results.
package svm

import (
	"encoding/json"
	"fmt"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
)

// StatusKind classifies an execution outcome.
type StatusKind uint8

const (
	// StatusSuccess marks a committed execution.
	StatusSuccess StatusKind = iota

	// StatusProgramError marks a program-reported numeric error code.
	StatusProgramError

	// StatusComputeExceeded marks an execution halted by the compute
	// budget.
	StatusComputeExceeded

	// StatusAccountNotFound marks a failed account resolution.
	StatusAccountNotFound

	// StatusDuplicateAccount marks conflicting duplicate account
	// references.
	StatusDuplicateAccount

	// StatusAccessViolation marks an ownership or signer rule violation.
	StatusAccessViolation

	// StatusUnknownProgram marks an unregistered target program.
	StatusUnknownProgram
)

var statusNames = map[StatusKind]string{
	StatusSuccess:          "success",
	StatusProgramError:     "program_error",
	StatusComputeExceeded:  "compute_exceeded",
	StatusAccountNotFound:  "account_not_found",
	StatusDuplicateAccount: "duplicate_account",
	StatusAccessViolation:  "access_violation",
	StatusUnknownProgram:   "unknown_program",
}

// String returns the status kind name.
func (k StatusKind) String() string {
	if name, ok := statusNames[k]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StatusKind) UnmarshalText(text []byte) error {
	for kind, name := range statusNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown status kind %q", text)
}

// Status is the terminal outcome of one instruction execution.
type Status struct {
	Kind StatusKind `json:"kind"`

	// Code is the program-defined numeric error code. Only meaningful for
	// StatusProgramError.
	Code uint64 `json:"code,omitempty"`

	// Message is free-form diagnostic detail. Not part of equality.
	Message string `json:"message,omitempty"`
}

// Success returns the success status.
func Success() Status {
	return Status{Kind: StatusSuccess}
}

// ProgramFailure returns a program-error status with the given code.
func ProgramFailure(code uint64) Status {
	return Status{Kind: StatusProgramError, Code: code}
}

// Ok reports whether the status is success.
func (s Status) Ok() bool {
	return s.Kind == StatusSuccess
}

// Equals compares kind and code. Messages are diagnostics and are ignored.
func (s Status) Equals(other Status) bool {
	return s.Kind == other.Kind && s.Code == other.Code
}

// String renders the status for reports.
func (s Status) String() string {
	switch {
	case s.Kind == StatusProgramError:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Code)
	case s.Message != "":
		return fmt.Sprintf("%s: %s", s.Kind, s.Message)
	default:
		return s.Kind.String()
	}
}

// AccountDelta is the pre/post state of one referenced account.
type AccountDelta struct {
	Pubkey types.Pubkey      `json:"pubkey"`
	Pre    *accounts.Account `json:"pre,omitempty"`
	Post   *accounts.Account `json:"post,omitempty"`
}

// ExecutionResult is the sole artifact of one instruction execution:
// terminal status, resource consumption, ordered logs, and the
// post-execution view of every referenced account. Immutable once produced.
type ExecutionResult struct {
	Status Status `json:"status"`

	// ComputeUnits is the resource units consumed, including executions
	// that failed mid-flight.
	ComputeUnits uint64 `json:"compute_units"`

	// Logs are the program log lines in emission order, captured up to
	// the failure point on failed executions.
	Logs []string `json:"logs,omitempty"`

	// Accounts holds the referenced accounts in instruction order,
	// deduplicated. On failure Post equals Pre: nothing was committed.
	Accounts []AccountDelta `json:"accounts,omitempty"`
}

// Account returns the post-execution state of a referenced account.
func (r *ExecutionResult) Account(pubkey types.Pubkey) (*accounts.Account, bool) {
	for i := range r.Accounts {
		if r.Accounts[i].Pubkey == pubkey {
			return r.Accounts[i].Post, true
		}
	}
	return nil, false
}

// Marshal serializes the result for diagnostic reporting.
func (r *ExecutionResult) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
