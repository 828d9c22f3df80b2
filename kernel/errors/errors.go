// Package errors provides the helper that builds a *kernel.Error tagged
// with one of the kernel.Kind values (the taxonomy itself is declared in
// package kernel), plus a string-based error type for leaf packages.
package errors

import "hendkernel/kernel"

var (
	// ErrInvalidParamValue is a generic, module-agnostic invalid parameter
	// error kept for call-sites that don't need a module tag.
	ErrInvalidParamValue = KernelError("invalid parameter value")
)

// KernelError is a trivial implementation of a kernel error message that doens't
// require a memory allocation. It is used as an alternative to errors.New.
type KernelError string

// Error implements the error interface.
func (err KernelError) Error() string {
	return string(err)
}

// New builds a *kernel.Error tagged with kind for the named module. Kernel
// packages keep the result in a package-level var (mirroring
// kernel.errRuntimePanic / vmm.errNoHugePageSupport) rather than calling New
// at the error site, since no allocator is guaranteed to be available in
// every caller.
func New(module string, kind kernel.Kind, message string) *kernel.Error {
	return &kernel.Error{Module: module, Kind: kind, Message: message}
}

// Is reports whether err is a *kernel.Error of the given kind.
func Is(err *kernel.Error, kind kernel.Kind) bool {
	return err != nil && err.Kind == kind
}
