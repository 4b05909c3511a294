// Package svm: instruction types.
package svm

import (
	"bytes"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

// AccountMeta describes how an instruction references an account. It does
// not own account data.
type AccountMeta struct {
	Pubkey     types.Pubkey `json:"pubkey"`
	IsSigner   bool         `json:"is_signer"`
	IsWritable bool         `json:"is_writable"`
}

// Instruction is one unit of requested program invocation: a target program,
// an ordered account reference list, and an opaque payload. Immutable once
// constructed by the caller.
type Instruction struct {
	ProgramID types.Pubkey  `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data,omitempty"`
}

// Equals reports field-wise equality, byte-exact on the payload.
func (in Instruction) Equals(other Instruction) bool {
	if in.ProgramID != other.ProgramID {
		return false
	}
	if len(in.Accounts) != len(other.Accounts) {
		return false
	}
	for i := range in.Accounts {
		if in.Accounts[i] != other.Accounts[i] {
			return false
		}
	}
	return bytes.Equal(in.Data, other.Data)
}
