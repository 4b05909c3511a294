// Package svm: compute unit metering.
package svm

import (
	"errors"
)

// Compute unit cost constants.
// These follow the Solana/Agave reference implementation.
const (
	// CUDefault is the default CU limit per instruction.
	CUDefault = uint64(200_000)

	// CUMax is the max CU limit per execution.
	CUMax = uint64(1_400_000)

	// CULogBase is the base cost of emitting one log line.
	CULogBase = uint64(100)

	// CULogPerByte is the per-byte cost of a log line.
	CULogPerByte = uint64(1)

	// CUMemoryOpBase is the base cost of an account data write.
	CUMemoryOpBase = uint64(10)

	// CUMemoryOpPerByte is the per-byte cost of an account data write.
	CUMemoryOpPerByte = uint64(1)

	// CUNativeProgramBase is the invocation base cost of a native program.
	CUNativeProgramBase = uint64(150)

	// CUSBPFProgramBase is the invocation base cost of an sBPF program.
	CUSBPFProgramBase = uint64(570)
)

// ErrComputeExceeded is returned when compute units are exhausted. The
// execution halts at the consume call that first exceeds the limit.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks compute unit consumption for one execution. Consumed
// units increase monotonically; once the limit is crossed every further
// Consume fails. The meter is the engine's cooperative cancellation point.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a compute meter with the specified limit, capped
// at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputeExceeded if insufficient units remain; the deficit is
// charged so that Consumed reports the full limit after exhaustion.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cm.remaining < cost {
		cm.consumed += cm.remaining
		cm.remaining = 0
		return ErrComputeExceeded
	}
	cm.remaining -= cost
	cm.consumed += cost
	return nil
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}

// IsExhausted returns true if compute units are exhausted.
func (cm *ComputeMeter) IsExhausted() bool {
	return cm.remaining == 0
}
