// Package errors provides structured error types for the memloader library.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type carries the module name, handle value,
// and symbol name involved, plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLookup, errors.KindNotFound).
//		Module("util.wasm").
//		Symbol("checksum").
//		Detail("no such export").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseUnload, uint32(h))
//	err := errors.ParseFailed("util.wasm", cause)
//
// All errors implement the standard error interface and support
// errors.Is/As; Is matches on Phase and Kind.
package errors
