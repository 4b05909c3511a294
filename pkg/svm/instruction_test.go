package svm

import (
	"testing"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

func TestInstructionEquals(t *testing.T) {
	program := types.MustPubkeyFromBase58("11111111111111111111111111111111")
	var alice, bob types.Pubkey
	alice[0] = 1
	bob[0] = 2

	base := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: alice, IsSigner: true, IsWritable: true},
			{Pubkey: bob, IsWritable: true},
		},
		Data: []byte{2, 0, 0, 0},
	}

	if !base.Equals(base) {
		t.Error("instruction not equal to itself")
	}

	payload := base
	payload.Data = []byte{2, 0, 0, 1}
	if base.Equals(payload) {
		t.Error("instructions with different payloads compare equal")
	}

	flags := base
	flags.Accounts = []AccountMeta{
		{Pubkey: alice, IsSigner: true, IsWritable: true},
		{Pubkey: bob, IsWritable: false},
	}
	if base.Equals(flags) {
		t.Error("instructions with different account flags compare equal")
	}

	fewer := base
	fewer.Accounts = base.Accounts[:1]
	if base.Equals(fewer) {
		t.Error("instructions with different account counts compare equal")
	}

	target := base
	target.ProgramID = alice
	if base.Equals(target) {
		t.Error("instructions with different programs compare equal")
	}
}

func TestStatusEquals(t *testing.T) {
	a := Status{Kind: StatusProgramError, Code: 3, Message: "one"}
	b := Status{Kind: StatusProgramError, Code: 3, Message: "two"}
	if !a.Equals(b) {
		t.Error("statuses differing only in message compare unequal")
	}
	c := Status{Kind: StatusProgramError, Code: 4}
	if a.Equals(c) {
		t.Error("statuses with different codes compare equal")
	}
	if Success().Equals(a) {
		t.Error("success compares equal to a program error")
	}
}
