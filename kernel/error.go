package kernel

// Kind classifies an Error into one of the categories a syscall caller or
// ISR can act on. kernel/errors.New builds an Error tagged with a Kind;
// each package declares its own sentinels with it.
type Kind uint8

// The error kinds a kernel API may report.
const (
	KindUnspecified Kind = iota
	KindAllocationFailure
	KindInvalidArgument
	KindNotFound
	KindAlreadyExists
	KindNotSupported
	KindIoFailure
	KindPermissionDenied
	KindWouldBlock
)

// Error describes a kernel kerror. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Kind classifies the error for callers that need to branch on it
	// (e.g. syscall dispatch mapping to a negative errno, or the page
	// fault handler choosing which signal to raise).
	Kind Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
