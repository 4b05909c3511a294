// Package system implements the simulator's System Program.
//
// The System Program is the engine's recognized balance-transfer authority:
// it may move lamports between the accounts an instruction references. The
// supported instruction set covers the subset the harness needs:
// - CreateAccount: fund, allocate and assign a fresh account
// - Assign: change an account's owner
// - Transfer: move lamports
// - Allocate: grow an account's data
//
// Instruction payloads use the Solana wire encoding: a little-endian u32
// discriminant followed by bincode-encoded parameters.
package system

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/registry"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants, matching Solana's system instruction set.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// Program error codes reported through the execution status.
const (
	CodeAccountAlreadyInUse uint64 = iota
	CodeResultWithNegativeLamports
	CodeInvalidProgramID
	CodeInvalidAccountDataLength
	CodeMissingRequiredSignature
	CodeNotEnoughAccountKeys
	CodeInvalidInstructionData
	CodeInvalidAccountOwner
	CodeArithmeticOverflow
)

// Program is the native System Program implementation.
type Program struct{}

// NewProgram creates the System Program handler.
func NewProgram() *Program {
	return &Program{}
}

// Register registers the System Program in a registry.
func Register(reg *registry.Registry) error {
	return reg.RegisterNative(ProgramID, NewProgram())
}

// Execute dispatches one System Program instruction.
func (p *Program) Execute(ctx registry.InvokeContext) error {
	decoder := bin.NewBinDecoder(ctx.InstructionData())

	discriminant, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}

	switch discriminant {
	case InstructionCreateAccount:
		return p.createAccount(ctx, decoder)
	case InstructionAssign:
		return p.assign(ctx, decoder)
	case InstructionTransfer:
		return p.transfer(ctx, decoder)
	case InstructionAllocate:
		return p.allocate(ctx, decoder)
	default:
		return registry.ProgramError(CodeInvalidInstructionData)
	}
}

// createAccount creates a new account.
// Accounts: [0] = funding account (signer), [1] = new account (signer).
// Params: lamports (u64) + space (u64) + owner (32).
func (p *Program) createAccount(ctx registry.InvokeContext, decoder *bin.Decoder) error {
	lamports, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}
	space, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}
	owner, err := readPubkey(decoder)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}

	funder, err := ctx.Account(0)
	if err != nil {
		return registry.ProgramError(CodeNotEnoughAccountKeys)
	}
	newAccount, err := ctx.Account(1)
	if err != nil {
		return registry.ProgramError(CodeNotEnoughAccountKeys)
	}

	if !funder.IsSigner() || !newAccount.IsSigner() {
		return registry.ProgramError(CodeMissingRequiredSignature)
	}
	if space > accounts.MaxAccountDataSize {
		return registry.ProgramError(CodeInvalidAccountDataLength)
	}
	if newAccount.Owner() != ProgramID || len(newAccount.Data()) > 0 || newAccount.Lamports() > 0 {
		return registry.ProgramError(CodeAccountAlreadyInUse)
	}
	if funder.Lamports() < lamports {
		return registry.ProgramError(CodeResultWithNegativeLamports)
	}

	if err := funder.SetLamports(funder.Lamports() - lamports); err != nil {
		return err
	}
	if err := newAccount.SetLamports(lamports); err != nil {
		return err
	}
	if err := newAccount.SetData(make([]byte, space)); err != nil {
		return err
	}
	if err := newAccount.SetOwner(owner); err != nil {
		return err
	}

	return ctx.Log(fmt.Sprintf("CreateAccount: %s, %d lamports, %d bytes, owner %s",
		newAccount.Key(), lamports, space, owner))
}

// assign changes the owner of an account.
// Accounts: [0] = account (signer). Params: owner (32).
func (p *Program) assign(ctx registry.InvokeContext, decoder *bin.Decoder) error {
	owner, err := readPubkey(decoder)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}

	account, err := ctx.Account(0)
	if err != nil {
		return registry.ProgramError(CodeNotEnoughAccountKeys)
	}
	if !account.IsSigner() {
		return registry.ProgramError(CodeMissingRequiredSignature)
	}
	if account.Owner() != ProgramID {
		return registry.ProgramError(CodeInvalidAccountOwner)
	}

	if err := account.SetOwner(owner); err != nil {
		return err
	}
	return ctx.Log(fmt.Sprintf("Assign: %s to owner %s", account.Key(), owner))
}

// transfer moves lamports between accounts.
// Accounts: [0] = from (signer, writable), [1] = to (writable).
// Params: lamports (u64).
func (p *Program) transfer(ctx registry.InvokeContext, decoder *bin.Decoder) error {
	lamports, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}

	from, err := ctx.Account(0)
	if err != nil {
		return registry.ProgramError(CodeNotEnoughAccountKeys)
	}
	to, err := ctx.Account(1)
	if err != nil {
		return registry.ProgramError(CodeNotEnoughAccountKeys)
	}

	if !from.IsSigner() {
		return registry.ProgramError(CodeMissingRequiredSignature)
	}
	if from.Lamports() < lamports {
		return registry.ProgramError(CodeResultWithNegativeLamports)
	}
	if to.Lamports() > ^uint64(0)-lamports {
		return registry.ProgramError(CodeArithmeticOverflow)
	}

	if err := from.SetLamports(from.Lamports() - lamports); err != nil {
		return err
	}
	if err := to.SetLamports(to.Lamports() + lamports); err != nil {
		return err
	}

	return ctx.Log(fmt.Sprintf("Transfer: %d lamports from %s to %s", lamports, from.Key(), to.Key()))
}

// allocate grows an account's data.
// Accounts: [0] = account (signer). Params: space (u64).
func (p *Program) allocate(ctx registry.InvokeContext, decoder *bin.Decoder) error {
	space, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return registry.ProgramError(CodeInvalidInstructionData)
	}

	account, err := ctx.Account(0)
	if err != nil {
		return registry.ProgramError(CodeNotEnoughAccountKeys)
	}
	if !account.IsSigner() {
		return registry.ProgramError(CodeMissingRequiredSignature)
	}
	if account.Owner() != ProgramID {
		return registry.ProgramError(CodeInvalidAccountOwner)
	}
	if space > accounts.MaxAccountDataSize || uint64(len(account.Data())) > space {
		return registry.ProgramError(CodeInvalidAccountDataLength)
	}

	data := make([]byte, space)
	copy(data, account.Data())
	if err := account.SetData(data); err != nil {
		return err
	}

	return ctx.Log(fmt.Sprintf("Allocate: %s to %d bytes", account.Key(), space))
}

func readPubkey(decoder *bin.Decoder) (types.Pubkey, error) {
	raw, err := decoder.ReadNBytes(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromBytes(raw)
}

// NewTransferInstruction builds a Transfer instruction.
func NewTransferInstruction(from, to types.Pubkey, lamports uint64) svm.Instruction {
	buf := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buf)
	encoder.WriteUint32(InstructionTransfer, bin.LE)
	encoder.WriteUint64(lamports, bin.LE)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: buf.Bytes(),
	}
}

// NewCreateAccountInstruction builds a CreateAccount instruction.
func NewCreateAccountInstruction(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	buf := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buf)
	encoder.WriteUint32(InstructionCreateAccount, bin.LE)
	encoder.WriteUint64(lamports, bin.LE)
	encoder.WriteUint64(space, bin.LE)
	encoder.WriteBytes(owner[:], false)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: newAccount, IsSigner: true, IsWritable: true},
		},
		Data: buf.Bytes(),
	}
}

// NewAssignInstruction builds an Assign instruction.
func NewAssignInstruction(account, owner types.Pubkey) svm.Instruction {
	buf := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buf)
	encoder.WriteUint32(InstructionAssign, bin.LE)
	encoder.WriteBytes(owner[:], false)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: buf.Bytes(),
	}
}

// NewAllocateInstruction builds an Allocate instruction.
func NewAllocateInstruction(account types.Pubkey, space uint64) svm.Instruction {
	buf := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buf)
	encoder.WriteUint32(InstructionAllocate, bin.LE)
	encoder.WriteUint64(space, bin.LE)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: buf.Bytes(),
	}
}
