// Package manager implements the library manager at the core of memloader:
// the handle table of loaded modules, reference-counted module identity
// keyed by case-insensitive base name, and the dependency-load forwarding
// protocol.
//
// One Manager owns one table. Handles are allocated densely from
// memloader.HandleBase and never reused while any record still holds them.
// Loading a name that is already resident bumps its reference count and
// returns the existing handle; the module is destroyed synchronously when
// the count reaches zero.
//
// The manager's lock is re-entrant per goroutine and is held across the
// whole of a load, including the Loader's parse and the application's
// dependency callback. A subscriber that blocks indefinitely therefore
// stalls all other operations on the manager; this is an accepted
// trade-off, not something the manager works around.
package manager
