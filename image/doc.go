// Package image implements the executable-image Loader variant on top of
// wazero. An image is a WebAssembly binary held in memory: compiling it is
// the parse step, exported functions are its symbols, and custom sections
// are its resources (a section named "type/name" carries an explicit
// resource type).
//
// Imports the engine cannot satisfy are resolved through the
// dependency-load callback the loader was constructed with. A supplied
// dependency is parsed as a private nested image owned by the requesting
// loader; a dependency reported as already resolved is expected to be
// resident in the shared engine, typically because the subscriber loaded
// it through the manager from inside the callback.
//
// All images of one manager share one Engine, whose module namespace is
// what links an image's imports to previously loaded dependencies.
package image
