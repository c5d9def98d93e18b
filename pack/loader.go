package pack

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/wippyai/memloader"
	errs "github.com/wippyai/memloader/errors"
)

// Loader loads one data package: a zip archive held in memory, carrying a
// YAML manifest and the resource files it names. The validation callback,
// when present, vets every resource before it is registered; a rejection
// aborts the whole load.
type Loader struct {
	validate     memloader.ValidateFunc
	onDependency memloader.DependencyFunc
	name         string
	manifest     *Manifest
	version      *semver.Version
	entries      []resourceEntry
	deps         []*Loader   // privately owned required packages
	issued       []issuedRef // descriptors handed out for dependency resources
	parsed       bool
	closed       bool
}

// issuedRef records a resource descriptor issued for an entry of a required
// package. The child descriptor is kept whole, so a reference can thread
// through any number of package levels without the selectors colliding.
type issuedRef struct {
	dep *Loader
	res memloader.Resource
}

type resourceEntry struct {
	name string
	typ  string
	data []byte
}

// New creates an unparsed package loader. Both callbacks may be nil: a nil
// validate accepts everything, a nil dependency callback fails any
// `requires` entry.
func New(validate memloader.ValidateFunc, onDependency memloader.DependencyFunc) *Loader {
	return &Loader{
		validate:     validate,
		onDependency: onDependency,
	}
}

// Parse opens the archive, checks the manifest, resolves required
// packages, validates and registers every resource.
func (l *Loader) Parse(ctx context.Context, name string, data []byte) error {
	if l.parsed {
		return errs.InvalidInput(errs.PhaseParse, "package already parsed")
	}
	l.name = name

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errs.ParseFailed(name, fmt.Errorf("open archive: %w", err))
	}

	rawManifest, err := readMember(zr, ManifestName)
	if err != nil {
		return errs.ParseFailed(name, err)
	}
	manifest, version, err := parseManifest(rawManifest)
	if err != nil {
		return errs.ParseFailed(name, err)
	}

	for _, dep := range manifest.Requires {
		if err := l.resolve(ctx, name, dep); err != nil {
			return err
		}
	}

	entries := make([]resourceEntry, 0, len(manifest.Resources))
	for _, e := range manifest.Resources {
		raw, err := readMember(zr, e.Path)
		if err != nil {
			return errs.ParseFailed(name, err)
		}
		if l.validate != nil {
			if err := l.validate(e.Name, raw); err != nil {
				return errs.Validation(name, fmt.Errorf("resource %q: %w", e.Name, err))
			}
		}
		typ := e.Type
		if typ == "" {
			typ = "data"
		}
		entries = append(entries, resourceEntry{name: e.Name, typ: typ, data: raw})
	}

	l.manifest = manifest
	l.version = version
	l.entries = entries
	l.parsed = true
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
		sub := New(l.validate, l.onDependency)
		if err := sub.Parse(ctx, dep, data); err != nil {
			_ = sub.Close()
			return errs.ResolveFailed(requester, dep, err)
		}
		l.deps = append(l.deps, sub)
		return nil

	case memloader.DependencyResolved:
		return nil

	default:
		return errs.ResolveFailed(requester, dep, nil)
	}
}

// Symbol always fails: packages carry data, not code.
func (l *Loader) Symbol(name string) (uintptr, error) {
	return 0, errs.New(errs.PhaseLookup, errs.KindUnsupported).
		Module(l.name).Symbol(name).Detail("packages do not export symbols").Build()
}

// FindResource locates a resource by name and type, case-insensitively.
// Resources of privately owned required packages are searched after the
// package's own.
func (l *Loader) FindResource(name, typ string) (*memloader.Resource, error) {
	if !l.parsed {
		return nil, errs.Closed(errs.PhaseLookup, "package loader")
	}
	for i, e := range l.entries {
		if strings.EqualFold(e.name, name) && strings.EqualFold(e.typ, typ) {
			return &memloader.Resource{
				Name:  e.name,
				Type:  e.typ,
				Size:  uint32(len(e.data)),
				Index: uint32(i),
			}, nil
		}
	}
	for _, dep := range l.deps {
		res, err := dep.FindResource(name, typ)
		if err == nil {
			res.Index = l.issue(dep, res)
			return res, nil
		}
	}
	return nil, errs.NotFound(errs.PhaseLookup, "resource", typ+"/"+name)
}

// issue returns the index under which a dependency's resource is addressed
// through this package. Indexes past the package's own entries select the
// issued-descriptor registry; re-finding the same resource reuses its slot.
func (l *Loader) issue(dep *Loader, res *memloader.Resource) uint32 {
	for i, ref := range l.issued {
		if ref.dep == dep && ref.res.Index == res.Index {
			return uint32(len(l.entries) + i)
		}
	}
	l.issued = append(l.issued, issuedRef{dep: dep, res: *res})
	return uint32(len(l.entries) + len(l.issued) - 1)
}

// ResourceData returns the bytes of a previously found resource.
func (l *Loader) ResourceData(res *memloader.Resource) ([]byte, error) {
	e, err := l.entryFor(res)
	if err != nil {
		return nil, err
	}
	return e.data, nil
}

// ResourceSize returns the byte count of a previously found resource.
func (l *Loader) ResourceSize(res *memloader.Resource) (uint32, error) {
	e, err := l.entryFor(res)
	if err != nil {
		return 0, err
	}
	return uint32(len(e.data)), nil
}

func (l *Loader) entryFor(res *memloader.Resource) (*resourceEntry, error) {
	if !l.parsed {
		return nil, errs.Closed(errs.PhaseLookup, "package loader")
	}
	if res == nil {
		return nil, errs.InvalidInput(errs.PhaseLookup, "nil resource descriptor")
	}
	if int(res.Index) < len(l.entries) {
		return &l.entries[res.Index], nil
	}
	ri := int(res.Index) - len(l.entries)
	if ri >= len(l.issued) {
		return nil, errs.InvalidInput(errs.PhaseLookup, "stale resource descriptor")
	}
	ref := l.issued[ri]
	sub := ref.res
	return ref.dep.entryFor(&sub)
}

// Name returns the nominal file name the package was parsed under.
func (l *Loader) Name() string {
	return l.name
}

// Kind reports the loader variant.
func (l *Loader) Kind() memloader.Kind {
	return memloader.KindPackage
}

// Manifest returns the decoded manifest, nil before a successful Parse.
func (l *Loader) Manifest() *Manifest {
	return l.manifest
}

// Version returns the package's semantic version, nil before a successful
// Parse.
func (l *Loader) Version() *semver.Version {
	return l.version
}

// Close drops the registered resources and every privately owned required
// package.
func (l *Loader) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	l.entries = nil
	l.issued = nil
	var firstErr error
	for _, dep := range l.deps {
		if err := dep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.deps = nil
	return firstErr
}

func readMember(zr *zip.Reader, path string) ([]byte, error) {
	f, err := zr.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive member %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read archive member %q: %w", path, err)
	}
	return data, nil
}
