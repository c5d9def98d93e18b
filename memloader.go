package memloader

import "context"

// Handle is an opaque reference to a loaded module.
// Handle 0 is reserved and always invalid; it doubles as the not-found
// sentinel for lookups by name.
type Handle uint32

// HandleBase is the first value the handle allocator probes. Handles are
// drawn densely from this base and are only reused after the owning module
// record has been destroyed.
const HandleBase Handle = 0x10

// Kind discriminates the two Loader variants. Unload entry points are
// kind-checked: an image handle cannot be released through the package
// path, and vice versa, because the variants have different teardown
// semantics.
type Kind uint8

const (
	KindImage Kind = iota
	KindPackage
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPackage:
		return "package"
	default:
		return "unknown"
	}
}

// Resource describes a named, typed resource inside a loaded module.
// The descriptor is produced by FindResource and consumed by ResourceData
// and ResourceSize; Index identifies the resource within its loader and is
// meaningless across loaders.
type Resource struct {
	Name  string
	Type  string
	Size  uint32
	Index uint32
}

// DependencyAction is the subscriber's answer to a dependency-load request.
type DependencyAction uint8

const (
	// DependencySupply hands the dependency's bytes back in Data; the
	// loader consumes them itself as a privately owned nested module.
	DependencySupply DependencyAction = iota

	// DependencyResolved asserts the dependency is already resident,
	// typically because the subscriber loaded it through the manager from
	// inside the callback.
	DependencyResolved

	// DependencyFail aborts the outer load.
	DependencyFail
)

// DependencyRequest is the in/out record passed to the dependency
// subscriber when a Loader needs a named module it cannot resolve
// internally. Requester and Dependency are set by the loader; the
// subscriber fills Action and, for DependencySupply, Data. OwnsData
// reports whether the loader may retain Data beyond the callback; a
// subscriber that recycles its buffers sets it false and the loader
// copies.
type DependencyRequest struct {
	Requester  string
	Dependency string
	Action     DependencyAction
	Data       []byte
	OwnsData   bool
}

// DependencyFunc receives dependency-load requests. A manager forwards
// every request from every Loader it owns to a single subscriber; there is
// no multicast.
type DependencyFunc func(*DependencyRequest)

// ValidateFunc vets a package resource before the package loader registers
// it. Returning an error aborts the package load.
type ValidateFunc func(name string, data []byte) error

// Loader is the capability surface the manager requires of a module once
// its bytes are parsed. A Loader is constructed unparsed, is parsed exactly
// once, and is owned by exactly one module record until Close.
type Loader interface {
	// Parse maps the module from its in-memory bytes under the given
	// nominal name. During parsing the loader may fire dependency-load
	// requests. A failed Parse leaves the loader closeable but unusable.
	Parse(ctx context.Context, name string, data []byte) error

	// Symbol resolves an exported symbol to a function-pointer-sized token.
	Symbol(name string) (uintptr, error)

	// FindResource locates a resource by name and type.
	FindResource(name, typ string) (*Resource, error)

	// ResourceData returns the bytes of a previously found resource.
	ResourceData(res *Resource) ([]byte, error)

	// ResourceSize returns the byte count of a previously found resource.
	ResourceSize(res *Resource) (uint32, error)

	// Name returns the nominal file name the module was parsed under.
	Name() string

	// Kind reports which loader variant this is.
	Kind() Kind

	// Close releases everything the loader mapped, including privately
	// owned dependencies.
	Close() error
}
