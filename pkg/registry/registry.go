// Package registry owns loaded program images for the simulator.
//
// A Registry maps program identifiers to executable handles. All programs
// must be registered before execution; there is no implicit lazy loading,
// and registered images are never mutated. The registry is an explicitly
// constructed, explicitly owned value passed into the Processor, never
// process-wide state.
//
// The registry also defines the execution boundary: program code only sees
// the narrow InvokeContext capability surface (read referenced accounts,
// request mutation of writable ones, emit logs, consume compute units,
// return a status), so the interpreter or sandbox behind an image is
// swappable without touching Processor logic.
package registry

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fortiblox/X1-Crucible/internal/types"
)

var (
	// ErrDuplicateProgram is returned when registering an identifier that
	// is already present without requesting overwrite.
	ErrDuplicateProgram = errors.New("program already registered")

	// ErrUnknownProgram is returned when resolving an unregistered
	// identifier.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrProgramLoad is returned for malformed or unregisterable images.
	ErrProgramLoad = errors.New("program load failed")

	// ErrRuntimeUnavailable is returned when a registered image's loader
	// kind has no installed runtime.
	ErrRuntimeUnavailable = errors.New("no runtime installed for loader kind")
)

// LoaderKind identifies how a registered image is executed.
type LoaderKind uint8

const (
	// LoaderNative marks an in-process Go handler.
	LoaderNative LoaderKind = iota

	// LoaderSBPF marks an sBPF ELF image executed by an installed Runtime.
	LoaderSBPF
)

// String returns the loader kind name.
func (k LoaderKind) String() string {
	switch k {
	case LoaderNative:
		return "native"
	case LoaderSBPF:
		return "sbpf"
	default:
		return fmt.Sprintf("loader(%d)", uint8(k))
	}
}

// ProgramError is a numeric error code reported by program logic. It is an
// expected, first-class outcome, not a host failure.
type ProgramError uint64

// Error implements error.
func (e ProgramError) Error() string {
	return fmt.Sprintf("program error: custom code %d", uint64(e))
}

// BorrowedAccount is transient access to one resolved account, scoped to a
// single execution. Mutators enforce the writability rules; reads are always
// permitted.
type BorrowedAccount interface {
	Key() types.Pubkey
	Owner() types.Pubkey
	Lamports() uint64
	Data() []byte
	Executable() bool
	IsSigner() bool
	IsWritable() bool

	// SetLamports updates the balance. Fails unless the account is
	// writable.
	SetLamports(lamports uint64) error

	// SetOwner reassigns ownership. Fails unless the account is writable.
	SetOwner(owner types.Pubkey) error

	// SetData replaces the account data. Fails unless the account is
	// writable and not executable. The write is metered.
	SetData(data []byte) error
}

// InvokeContext is the capability surface handed to program code.
type InvokeContext interface {
	// ProgramID returns the identifier of the executing program.
	ProgramID() types.Pubkey

	// NumAccounts returns the number of instruction accounts.
	NumAccounts() int

	// Account returns the instruction account at index.
	Account(index int) (BorrowedAccount, error)

	// InstructionData returns the instruction payload.
	InstructionData() []byte

	// Log records a program log line. Metered; returns an error once the
	// compute budget is exhausted, and program code should stop at that
	// point. The line that first overruns the budget is still captured.
	Log(msg string) error

	// ConsumeUnits meters explicit compute consumption. Returns an error
	// once the budget is exhausted; program code must stop at that point.
	ConsumeUnits(units uint64) error
}

// NativeProgram is an in-process program implementation.
type NativeProgram interface {
	Execute(ctx InvokeContext) error
}

// NativeProgramFunc adapts a function to NativeProgram.
type NativeProgramFunc func(ctx InvokeContext) error

// Execute implements NativeProgram.
func (f NativeProgramFunc) Execute(ctx InvokeContext) error {
	return f(ctx)
}

// Runtime executes a registered image of one loader kind. Implementations
// receive the raw image and the same narrow context native programs get.
type Runtime interface {
	Execute(ctx InvokeContext, image []byte) error
}

// Handle is a resolved, executable program.
type Handle struct {
	ID      types.Pubkey
	Kind    LoaderKind
	Image   []byte
	native  NativeProgram
	runtime Runtime
}

// Invoke runs the program against the given context.
func (h *Handle) Invoke(ctx InvokeContext) error {
	switch h.Kind {
	case LoaderNative:
		return h.native.Execute(ctx)
	default:
		return h.runtime.Execute(ctx, h.Image)
	}
}

// entry is a registered, not yet prepared program.
type entry struct {
	kind   LoaderKind
	image  []byte
	native NativeProgram
}

// handleCacheSize bounds the prepared-handle cache.
const handleCacheSize = 128

// Registry maps program identifiers to loaded images.
// Not safe for concurrent mutation; parallel test runs use independent
// registries.
type Registry struct {
	programs map[types.Pubkey]*entry
	handles  *lru.Cache[types.Pubkey, *Handle]
	runtimes map[LoaderKind]Runtime
}

// New creates an empty registry.
func New() *Registry {
	handles, err := lru.New[types.Pubkey, *Handle](handleCacheSize)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Registry{
		programs: make(map[types.Pubkey]*entry),
		handles:  handles,
		runtimes: make(map[LoaderKind]Runtime),
	}
}

// InstallRuntime installs the runtime used for images of the given kind.
func (r *Registry) InstallRuntime(kind LoaderKind, rt Runtime) {
	r.runtimes[kind] = rt
}

// Register registers an image under id. Fails with ErrDuplicateProgram if id
// is already present, and with ErrProgramLoad if the image is malformed for
// its loader kind.
func (r *Registry) Register(id types.Pubkey, image []byte, kind LoaderKind) error {
	if _, ok := r.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, id)
	}
	return r.store(id, image, kind)
}

// Overwrite registers an image under id, replacing any existing program.
func (r *Registry) Overwrite(id types.Pubkey, image []byte, kind LoaderKind) error {
	return r.store(id, image, kind)
}

func (r *Registry) store(id types.Pubkey, image []byte, kind LoaderKind) error {
	if kind == LoaderNative {
		return fmt.Errorf("%w: native programs register through RegisterNative", ErrProgramLoad)
	}
	if err := validateELF(image); err != nil {
		return fmt.Errorf("%w: %v", ErrProgramLoad, err)
	}
	img := make([]byte, len(image))
	copy(img, image)
	r.programs[id] = &entry{kind: kind, image: img}
	r.handles.Remove(id)
	return nil
}

// RegisterNative registers an in-process handler under id.
func (r *Registry) RegisterNative(id types.Pubkey, program NativeProgram) error {
	if _, ok := r.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, id)
	}
	if program == nil {
		return fmt.Errorf("%w: nil native program", ErrProgramLoad)
	}
	r.programs[id] = &entry{kind: LoaderNative, native: program}
	r.handles.Remove(id)
	return nil
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id types.Pubkey) bool {
	_, ok := r.programs[id]
	return ok
}

// Resolve returns the executable handle for id. Fails with ErrUnknownProgram
// if absent, and with ErrRuntimeUnavailable if the image's loader kind has no
// installed runtime.
func (r *Registry) Resolve(id types.Pubkey) (*Handle, error) {
	if h, ok := r.handles.Get(id); ok {
		return h, nil
	}

	ent, ok := r.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, id)
	}

	h := &Handle{
		ID:     id,
		Kind:   ent.kind,
		Image:  ent.image,
		native: ent.native,
	}
	if ent.kind != LoaderNative {
		rt, ok := r.runtimes[ent.kind]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, ent.kind)
		}
		h.runtime = rt
	}

	r.handles.Add(id, h)
	return h, nil
}
