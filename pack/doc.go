// Package pack implements the data-package Loader variant. A package is a
// zip archive held in memory whose manifest.yaml names the package, pins a
// semantic version, lists required packages, and maps named, typed
// resources to archive members.
//
// The caller-supplied validation callback is consulted for every resource
// before registration; any rejection aborts the load. Entries in the
// manifest's requires list fire the dependency-load callback, mirroring
// the image loader's import resolution. Packages export no symbols.
package pack
