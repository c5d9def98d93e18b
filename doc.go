// Package memloader provides an in-process emulation of a platform
// dynamic-module loader.
//
// Modules are loaded from in-memory byte buffers, never from a filesystem
// path. The library reproduces the handle-based contract of a native loader:
// load, resolve symbols, enumerate and load resources, unload. Dependencies
// of a loaded module, which also do not exist on disk, are supplied on
// demand by the embedding application through a callback protocol, possibly
// triggering nested loads through the same manager.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	memloader/       Root package with handle, resource, and Loader contracts
//	├── manager/     The library manager: handle table, refcounts, locking
//	├── image/       wazero-backed executable-image loader
//	├── pack/        Data-package loader (zip container, YAML manifest)
//	└── errors/      Structured error types for debugging
//
// # Quick Start
//
// Load a module image and resolve a symbol:
//
//	mgr, err := manager.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close(ctx)
//
//	h, err := mgr.LoadImage(ctx, imageBytes, "util.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sym, err := mgr.Symbol(h, "checksum")
//
// # Dependency Resolution
//
// A module's imports are resolved by a single subscriber registered on the
// manager. The subscriber either supplies the dependency's bytes directly or
// loads it through the manager and reports it as already resolved:
//
//	mgr.SetDependencyFunc(func(req *memloader.DependencyRequest) {
//	    data, ok := archive[req.Dependency]
//	    if !ok {
//	        req.Action = memloader.DependencyFail
//	        return
//	    }
//	    if _, err := mgr.LoadImage(ctx, data, req.Dependency); err != nil {
//	        req.Action = memloader.DependencyFail
//	        return
//	    }
//	    req.Action = memloader.DependencyResolved
//	})
//
// The nested LoadImage call re-enters the manager on the same goroutine;
// the manager's lock is re-entrant to support exactly this pattern.
//
// # Thread Safety
//
// Manager is safe for concurrent use. A load holds the manager's lock for
// its full duration, including time spent inside the Loader and inside the
// application's dependency callback; loads from other goroutines block
// until the outer load completes. A Loader instance is privately owned by
// exactly one module record and must not be shared.
package memloader
