// Package svm: the invoke context handed to program code.
package svm

import (
	"fmt"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/registry"
)

// resolvedAccount is one instruction account resolved against the store,
// holding the working copy program code mutates.
type resolvedAccount struct {
	key        types.Pubkey
	account    *accounts.Account // working copy
	pre        *accounts.Account // snapshot taken before invocation
	isSigner   bool
	isWritable bool
}

// invokeContext implements registry.InvokeContext. It is the only path
// through which program code observes or mutates state: reads come from
// working copies, writes are metered and gated on writability, and nothing
// touches the store until the Processor commits.
type invokeContext struct {
	programID types.Pubkey
	data      []byte
	resolved  []*resolvedAccount // instruction order, duplicates share entries
	meter     *ComputeMeter
	logs      []string

	// meterErr records the first budget overrun. The Processor fails the
	// execution on it even when program code swallows the error.
	meterErr error
}

func newInvokeContext(programID types.Pubkey, data []byte, resolved []*resolvedAccount, meter *ComputeMeter) *invokeContext {
	return &invokeContext{
		programID: programID,
		data:      data,
		resolved:  resolved,
		meter:     meter,
	}
}

// ProgramID returns the executing program's identifier.
func (c *invokeContext) ProgramID() types.Pubkey {
	return c.programID
}

// NumAccounts returns the number of instruction accounts.
func (c *invokeContext) NumAccounts() int {
	return len(c.resolved)
}

// Account returns the instruction account at index.
func (c *invokeContext) Account(index int) (registry.BorrowedAccount, error) {
	if index < 0 || index >= len(c.resolved) {
		return nil, fmt.Errorf("account index %d out of bounds", index)
	}
	return &borrowedAccount{ctx: c, resolved: c.resolved[index]}, nil
}

// InstructionData returns the instruction payload.
func (c *invokeContext) InstructionData() []byte {
	return c.data
}

// Log records one program log line. The line is charged against the budget;
// the line that first overruns it is still captured, so failure logs
// survive, but once the budget is exhausted nothing further is captured.
func (c *invokeContext) Log(msg string) error {
	if c.meterErr != nil {
		return c.meterErr
	}
	err := c.consume(CULogBase + CULogPerByte*uint64(len(msg)))
	c.logs = append(c.logs, msg)
	return err
}

// ConsumeUnits meters explicit compute consumption.
func (c *invokeContext) ConsumeUnits(units uint64) error {
	return c.consume(units)
}

// consume charges the meter and records the first overrun.
func (c *invokeContext) consume(units uint64) error {
	err := c.meter.Consume(units)
	if err != nil && c.meterErr == nil {
		c.meterErr = err
	}
	return err
}

// borrowedAccount implements registry.BorrowedAccount over one resolved
// account's working copy.
type borrowedAccount struct {
	ctx      *invokeContext
	resolved *resolvedAccount
}

func (b *borrowedAccount) Key() types.Pubkey   { return b.resolved.key }
func (b *borrowedAccount) Owner() types.Pubkey { return b.resolved.account.Owner }
func (b *borrowedAccount) Lamports() uint64    { return b.resolved.account.Lamports }
func (b *borrowedAccount) Data() []byte        { return b.resolved.account.Data }
func (b *borrowedAccount) Executable() bool    { return b.resolved.account.Executable }
func (b *borrowedAccount) IsSigner() bool      { return b.resolved.isSigner }
func (b *borrowedAccount) IsWritable() bool    { return b.resolved.isWritable }

// SetLamports updates the working copy's balance.
func (b *borrowedAccount) SetLamports(lamports uint64) error {
	if !b.resolved.isWritable {
		return fmt.Errorf("%w: %s", ErrAccountNotWritable, b.resolved.key)
	}
	b.resolved.account.Lamports = lamports
	return nil
}

// SetOwner reassigns the working copy's owner.
func (b *borrowedAccount) SetOwner(owner types.Pubkey) error {
	if !b.resolved.isWritable {
		return fmt.Errorf("%w: %s", ErrAccountNotWritable, b.resolved.key)
	}
	b.resolved.account.Owner = owner
	return nil
}

// SetData replaces the working copy's data. The write is metered before it
// is applied, so a budget overrun halts the execution without the mutation.
func (b *borrowedAccount) SetData(data []byte) error {
	if !b.resolved.isWritable {
		return fmt.Errorf("%w: %s", ErrAccountNotWritable, b.resolved.key)
	}
	if b.resolved.account.Executable {
		return fmt.Errorf("%w: %s", ErrExecutableDataModified, b.resolved.key)
	}
	if err := b.ctx.consume(CUMemoryOpBase + CUMemoryOpPerByte*uint64(len(data))); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	b.resolved.account.Data = buf
	return nil
}
