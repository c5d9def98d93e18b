package image

import (
	"context"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/memloader"
	errs "github.com/wippyai/memloader/errors"
)

// Loader loads one executable image: a WebAssembly binary compiled and
// instantiated in the shared engine. Exported functions become symbols,
// custom sections become resources, and imported module names that are not
// resident in the engine are resolved through the dependency callback.
type Loader struct {
	engine       *Engine
	onDependency memloader.DependencyFunc
	name         string
	compiled     wazero.CompiledModule
	instance     api.Module
	exports      []string // sorted; a symbol token is the index plus one
	sections     []section
	deps         []*Loader // privately owned supplied dependencies
	parsed       bool
	closed       bool
}

// New creates an unparsed image loader backed by the given engine.
func New(engine *Engine, onDependency memloader.DependencyFunc) *Loader {
	return &Loader{
		engine:       engine,
		onDependency: onDependency,
	}
}

// Parse compiles the image, resolves its imports, and instantiates it
// under the base of the nominal name. Start functions are not run:
// registration side effects belong to the embedding application, not the
// loader.
func (l *Loader) Parse(ctx context.Context, name string, data []byte) error {
	if l.parsed {
		return errs.InvalidInput(errs.PhaseParse, "image already parsed")
	}
	l.name = name

	sections, err := customSections(data)
	if err != nil {
		return errs.ParseFailed(name, err)
	}

	compiled, err := l.engine.runtime.CompileModule(ctx, data)
	if err != nil {
		return errs.ParseFailed(name, err)
	}
	l.compiled = compiled
	l.sections = sections

	if err := l.resolveImports(ctx, name, compiled); err != nil {
		return err
	}

	instance, err := l.engine.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(instanceName(name)).WithStartFunctions())
	if err != nil {
		return errs.ParseFailed(name, err)
	}
	l.instance = instance

	defs := compiled.ExportedFunctions()
	l.exports = make([]string, 0, len(defs))
	for n := range defs {
		l.exports = append(l.exports, n)
	}
	sort.Strings(l.exports)

	l.parsed = true
	Logger().Debug("image parsed",
		zap.String("name", name),
		zap.Int("exports", len(l.exports)),
		zap.Int("sections", len(l.sections)))
	return nil
}

// resolveImports fires one dependency-load request per distinct imported
// module name that is not already resident in the engine.
func (l *Loader) resolveImports(ctx context.Context, name string, compiled wazero.CompiledModule) error {
	seen := make(map[string]bool)
	for _, fn := range compiled.ImportedFunctions() {
		dep, _, ok := fn.Import()
		if !ok || dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		if l.engine.Resident(dep) {
			continue
		}
		if err := l.resolve(ctx, name, dep); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) resolve(ctx context.Context, requester, dep string) error {
	if l.onDependency == nil {
		return errs.ResolveFailed(requester, dep, nil)
	}

	req := &memloader.DependencyRequest{
		Requester:  requester,
		Dependency: dep,
	}
	l.onDependency(req)

	switch req.Action {
	case memloader.DependencySupply:
		data := req.Data
		if len(data) == 0 {
			return errs.ResolveFailed(requester, dep,
				errs.InvalidInput(errs.PhaseResolve, "subscriber supplied no bytes"))
		}
		if !req.OwnsData {
			data = append([]byte(nil), data...)
		}
		sub := New(l.engine, l.onDependency)
		if err := sub.Parse(ctx, dep, data); err != nil {
			_ = sub.Close()
			return errs.ResolveFailed(requester, dep, err)
		}
		l.deps = append(l.deps, sub)
		return nil

	case memloader.DependencyResolved:
		if !l.engine.Resident(instanceName(dep)) {
			return errs.ResolveFailed(requester, dep,
				errs.NotFound(errs.PhaseResolve, "resident module", dep))
		}
		return nil

	default:
		return errs.ResolveFailed(requester, dep, nil)
	}
}

// Symbol resolves an exported function name to a stable dense token.
// Tokens start at 1; 0 is never returned for a resolved symbol.
func (l *Loader) Symbol(name string) (uintptr, error) {
	if !l.parsed {
		return 0, errs.Closed(errs.PhaseLookup, "image loader")
	}
	i := sort.SearchStrings(l.exports, name)
	if i >= len(l.exports) || l.exports[i] != name {
		return 0, errs.New(errs.PhaseLookup, errs.KindNotFound).
			Module(l.name).Symbol(name).Detail("no such export").Build()
	}
	return uintptr(i + 1), nil
}

// Function returns the callable export behind a token obtained from
// Symbol. This is image-specific surface beyond the Loader contract; the
// manager exposes only the token.
func (l *Loader) Function(token uintptr) (api.Function, error) {
	if !l.parsed || l.closed {
		return nil, errs.Closed(errs.PhaseLookup, "image loader")
	}
	idx := int(token) - 1
	if idx < 0 || idx >= len(l.exports) {
		return nil, errs.InvalidInput(errs.PhaseLookup, "symbol token out of range")
	}
	return l.instance.ExportedFunction(l.exports[idx]), nil
}

// FindResource locates a custom-section resource by name and type, both
// compared case-insensitively.
func (l *Loader) FindResource(name, typ string) (*memloader.Resource, error) {
	if !l.parsed {
		return nil, errs.Closed(errs.PhaseLookup, "image loader")
	}
	for i, s := range l.sections {
		if strings.EqualFold(s.name, name) && strings.EqualFold(s.typ, typ) {
			return &memloader.Resource{
				Name:  s.name,
				Type:  s.typ,
				Size:  uint32(len(s.data)),
				Index: uint32(i),
			}, nil
		}
	}
	return nil, errs.NotFound(errs.PhaseLookup, "resource", typ+"/"+name)
}

// ResourceData returns the bytes of a previously found resource.
func (l *Loader) ResourceData(res *memloader.Resource) ([]byte, error) {
	s, err := l.sectionFor(res)
	if err != nil {
		return nil, err
	}
	return s.data, nil
}

// ResourceSize returns the byte count of a previously found resource.
func (l *Loader) ResourceSize(res *memloader.Resource) (uint32, error) {
	s, err := l.sectionFor(res)
	if err != nil {
		return 0, err
	}
	return uint32(len(s.data)), nil
}

func (l *Loader) sectionFor(res *memloader.Resource) (*section, error) {
	if !l.parsed {
		return nil, errs.Closed(errs.PhaseLookup, "image loader")
	}
	if res == nil || int(res.Index) >= len(l.sections) {
		return nil, errs.InvalidInput(errs.PhaseLookup, "stale resource descriptor")
	}
	return &l.sections[res.Index], nil
}

// Name returns the nominal file name the image was parsed under.
func (l *Loader) Name() string {
	return l.name
}

// Kind reports the loader variant.
func (l *Loader) Kind() memloader.Kind {
	return memloader.KindImage
}

// Close releases the instance, the compiled module, and every privately
// owned dependency. Safe to call on a loader whose Parse failed.
func (l *Loader) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	ctx := context.Background()
	var firstErr error
	if l.instance != nil {
		if err := l.instance.Close(ctx); err != nil {
			firstErr = err
		}
		l.instance = nil
	}
	if l.compiled != nil {
		if err := l.compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		l.compiled = nil
	}
	for _, dep := range l.deps {
		if err := dep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.deps = nil
	return firstErr
}

// instanceName is the name the image registers under in the engine's
// module namespace: the base name with directory components stripped,
// case preserved (wasm import names are case-sensitive).
func instanceName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}
