package manager

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/memloader"
	"github.com/wippyai/memloader/errors"
	"github.com/wippyai/memloader/image"
	"github.com/wippyai/memloader/pack"
)

// ImageFactory constructs an unparsed image loader wired to the given
// dependency callback.
type ImageFactory func(deps memloader.DependencyFunc) memloader.Loader

// PackageFactory constructs an unparsed package loader wired to the given
// validation and dependency callbacks.
type PackageFactory func(validate memloader.ValidateFunc, deps memloader.DependencyFunc) memloader.Loader

// Manager is the library manager: the single entry point that owns the
// table of loaded modules, assigns handles, enforces reference-counted
// lifetime, and forwards dependency-load requests from its loaders to one
// externally registered subscriber.
//
// All operations serialize on a single re-entrant lock. A load holds the
// lock across the whole parse, including the application's dependency
// callback, so a recursive load from inside that callback (same goroutine)
// succeeds while loads from other goroutines block until the outer load
// completes.
type Manager struct {
	mu           *reentrantMutex
	tab          table
	log          *zap.Logger
	engine       *image.Engine
	newImage     ImageFactory
	newPackage   PackageFactory
	onDependency memloader.DependencyFunc
	closed       bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithImageFactory overrides how image loaders are constructed. When set,
// the manager does not create its own wasm engine.
func WithImageFactory(fn ImageFactory) Option {
	return func(m *Manager) { m.newImage = fn }
}

// WithPackageFactory overrides how package loaders are constructed.
func WithPackageFactory(fn PackageFactory) Option {
	return func(m *Manager) { m.newPackage = fn }
}

// WithEngine supplies a pre-built wasm engine for the default image
// factory. The manager takes ownership and closes it on Close.
func WithEngine(eng *image.Engine) Option {
	return func(m *Manager) { m.engine = eng }
}

// New creates a Manager. Unless factories are overridden, image loaders
// share one wazero engine created here, and package loaders need no
// engine.
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	m := &Manager{
		mu:  newReentrantMutex(),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.newImage == nil {
		if m.engine == nil {
			eng, err := image.NewEngine(ctx)
			if err != nil {
				return nil, err
			}
			m.engine = eng
		}
		eng := m.engine
		m.newImage = func(deps memloader.DependencyFunc) memloader.Loader {
			return image.New(eng, deps)
		}
	}
	if m.newPackage == nil {
		m.newPackage = func(validate memloader.ValidateFunc, deps memloader.DependencyFunc) memloader.Loader {
			return pack.New(validate, deps)
		}
	}

	return m, nil
}

// SetDependencyFunc registers the single dependency-load subscriber. Every
// request from every loader is forwarded to it unchanged; the manager
// performs no resolution of its own. Passing nil removes the subscriber,
// after which unresolved dependencies fail.
func (m *Manager) SetDependencyFunc(fn memloader.DependencyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDependency = fn
}

// LoadImage loads an executable image from an in-memory buffer under the
// given nominal name. If a module of that name (case-insensitive base
// name) is already loaded, its reference count is bumped and its existing
// handle returned without touching the buffer.
func (m *Manager) LoadImage(ctx context.Context, data []byte, name string) (memloader.Handle, error) {
	return m.load(ctx, data, name, memloader.KindImage, nil)
}

// LoadPackage loads a data package from an in-memory buffer. The validate
// callback, which may be nil, is handed through to the package loader
// opaquely and consulted before each resource is registered.
func (m *Manager) LoadPackage(ctx context.Context, data []byte, name string, validate memloader.ValidateFunc) (memloader.Handle, error) {
	return m.load(ctx, data, name, memloader.KindPackage, validate)
}

func (m *Manager) load(ctx context.Context, data []byte, name string, kind memloader.Kind, validate memloader.ValidateFunc) (memloader.Handle, error) {
	if len(data) == 0 {
		return 0, errors.InvalidInput(errors.PhaseLoad, "empty module buffer")
	}
	if name == "" {
		return 0, errors.InvalidInput(errors.PhaseLoad, "empty module name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.Closed(errors.PhaseLoad, "manager")
	}

	key := nameKey(name)
	if rec := m.tab.byName(key); rec != nil {
		if rec.kind != kind {
			return 0, errors.NameConflict(name, rec.kind.String())
		}
		rec.refs++
		m.log.Debug("module reference added",
			zap.String("name", rec.name),
			zap.Uint32("handle", uint32(rec.handle)),
			zap.Int("refs", rec.refs))
		return rec.handle, nil
	}

	var loader memloader.Loader
	if kind == memloader.KindImage {
		loader = m.newImage(m.forwardDependency)
	} else {
		loader = m.newPackage(validate, m.forwardDependency)
	}

	// The record goes into the table before parsing starts: the handle is
	// reserved, so a recursive load fired from the dependency callback
	// cannot allocate the same value. A parse failure removes it again,
	// leaving the table exactly as before the call.
	rec := &record{
		loader: loader,
		name:   name,
		key:    key,
		handle: m.tab.allocate(),
		kind:   kind,
		refs:   1,
	}
	m.tab.insert(rec)

	if err := loader.Parse(ctx, name, data); err != nil {
		m.tab.remove(rec)
		if cerr := loader.Close(); cerr != nil {
			m.log.Warn("loader close after failed parse",
				zap.String("name", name), zap.Error(cerr))
		}
		m.log.Debug("module load failed",
			zap.String("name", name), zap.Error(err))
		return 0, err
	}

	m.log.Debug("module loaded",
		zap.String("name", name),
		zap.Uint32("handle", uint32(rec.handle)),
		zap.Stringer("kind", kind))
	return rec.handle, nil
}

// forwardDependency is the hook every loader is constructed with. It runs
// while the manager's lock is held by the loading goroutine, which is what
// makes recursive loads from inside the subscriber safe.
func (m *Manager) forwardDependency(req *memloader.DependencyRequest) {
	if m.onDependency == nil {
		req.Action = memloader.DependencyFail
		return
	}
	m.onDependency(req)
}

// UnloadImage releases one reference to an image module. The record and
// its loader are destroyed when the count reaches zero.
func (m *Manager) UnloadImage(h memloader.Handle) error {
	return m.unload(h, memloader.KindImage)
}

// UnloadPackage releases one reference to a package module.
func (m *Manager) UnloadPackage(h memloader.Handle) error {
	return m.unload(h, memloader.KindPackage)
}

func (m *Manager) unload(h memloader.Handle, kind memloader.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return errors.InvalidHandle(errors.PhaseUnload, uint32(h))
	}
	if rec.kind != kind {
		// The loader variants have different teardown semantics; releasing
		// through the wrong entry point must fail, not silently succeed.
		return errors.KindMismatch(errors.PhaseUnload, uint32(h), kind.String(), rec.kind.String())
	}

	rec.refs--
	if rec.refs > 0 {
		m.log.Debug("module reference dropped",
			zap.String("name", rec.name), zap.Int("refs", rec.refs))
		return nil
	}

	m.tab.remove(rec)
	err := rec.loader.Close()
	m.log.Debug("module unloaded",
		zap.String("name", rec.name),
		zap.Uint32("handle", uint32(h)))
	return err
}

// Symbol resolves an exported symbol of the module to a
// function-pointer-sized token.
func (m *Manager) Symbol(h memloader.Handle, name string) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return 0, errors.InvalidHandle(errors.PhaseLookup, uint32(h))
	}
	return rec.loader.Symbol(name)
}

// FindResource locates a resource of the module by name and type.
func (m *Manager) FindResource(h memloader.Handle, name, typ string) (*memloader.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return nil, errors.InvalidHandle(errors.PhaseLookup, uint32(h))
	}
	return rec.loader.FindResource(name, typ)
}

// ResourceData returns the bytes of a resource previously located with
// FindResource on the same handle.
func (m *Manager) ResourceData(h memloader.Handle, res *memloader.Resource) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return nil, errors.InvalidHandle(errors.PhaseLookup, uint32(h))
	}
	return rec.loader.ResourceData(res)
}

// ResourceSize returns the byte count of a resource previously located
// with FindResource on the same handle.
func (m *Manager) ResourceSize(h memloader.Handle, res *memloader.Resource) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return 0, errors.InvalidHandle(errors.PhaseLookup, uint32(h))
	}
	return rec.loader.ResourceSize(res)
}

// ModuleName returns the nominal file name the module was loaded under.
func (m *Manager) ModuleName(h memloader.Handle) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return "", errors.InvalidHandle(errors.PhaseLookup, uint32(h))
	}
	return rec.loader.Name(), nil
}

// HandleByName translates a nominal name to the handle of the resident
// module, or 0 when no module of that name is loaded. Absence is an
// expected outcome here, not an error: callers use this to test residency
// before loading.
func (m *Manager) HandleByName(name string) memloader.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec := m.tab.byName(nameKey(name)); rec != nil {
		return rec.handle
	}
	return 0
}

// RefCount reports the current reference count of a module.
func (m *Manager) RefCount(h memloader.Handle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.tab.byHandle(h)
	if rec == nil {
		return 0, errors.InvalidHandle(errors.PhaseLookup, uint32(h))
	}
	return rec.refs, nil
}

// ModuleInfo is a snapshot row describing one loaded module.
type ModuleInfo struct {
	Name   string
	Handle memloader.Handle
	Kind   memloader.Kind
	Refs   int
}

// Modules returns a snapshot of every loaded module in table order.
func (m *Manager) Modules() []ModuleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ModuleInfo, 0, m.tab.len())
	for _, rec := range m.tab.records {
		out = append(out, ModuleInfo{
			Name:   rec.name,
			Handle: rec.handle,
			Kind:   rec.kind,
			Refs:   rec.refs,
		})
	}
	return out
}

// Len returns the number of currently loaded modules.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tab.len()
}

// Close force-unloads every remaining module, regardless of outstanding
// references, then shuts down the engine. No loader outlives the manager.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for m.tab.len() > 0 {
		rec := m.tab.records[m.tab.len()-1]
		m.tab.remove(rec)
		if rec.refs > 1 {
			m.log.Warn("force-unloading module with outstanding references",
				zap.String("name", rec.name), zap.Int("refs", rec.refs))
		}
		if err := rec.loader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.engine != nil {
		if err := m.engine.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
