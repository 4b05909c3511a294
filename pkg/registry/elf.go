// Package registry: sBPF ELF image validation.
//
// Validation covers the ELF64 header only. Full section parsing, relocation
// and bytecode verification belong to the installed Runtime; registration
// rejects images that could never be sBPF programs so malformed fixtures
// fail fast.
package registry

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ELF magic bytes.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

const (
	elfHeaderSize = 64

	elfClass64  = 2   // 64-bit
	elfDataLSB  = 1   // Little endian
	elfTypeExec = 2   // Executable
	elfTypeDyn  = 3   // Shared object (also used by Solana)
	elfMachBPF  = 247 // eBPF
	elfMachSBPF = 263 // sBPF (Solana BPF)
)

var (
	errELFTooShort     = errors.New("image shorter than ELF64 header")
	errELFBadMagic     = errors.New("bad ELF magic")
	errELFNot64Bit     = errors.New("not a 64-bit ELF")
	errELFNotLittle    = errors.New("not little-endian")
	errELFBadType      = errors.New("not an executable or shared object")
	errELFBadMachine   = errors.New("not a BPF machine image")
	errELFEmptyProgram = errors.New("empty image")
)

// validateELF checks the ELF64 header of an sBPF image.
func validateELF(image []byte) error {
	if len(image) == 0 {
		return errELFEmptyProgram
	}
	if len(image) < elfHeaderSize {
		return errELFTooShort
	}
	if !bytes.Equal(image[:4], elfMagic) {
		return errELFBadMagic
	}
	if image[4] != elfClass64 {
		return errELFNot64Bit
	}
	if image[5] != elfDataLSB {
		return errELFNotLittle
	}

	elfType := binary.LittleEndian.Uint16(image[16:18])
	if elfType != elfTypeExec && elfType != elfTypeDyn {
		return errELFBadType
	}

	machine := binary.LittleEndian.Uint16(image[18:20])
	if machine != elfMachBPF && machine != elfMachSBPF {
		return errELFBadMachine
	}
	return nil
}
