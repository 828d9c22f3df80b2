package syscall

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
)

// errInvalidFD is returned when a job-control syscall targets a
// descriptor that isn't backed by a TTY-capable device.
var errInvalidFD = errors.New("syscall", kernel.KindInvalidArgument, "descriptor is not a controlling terminal")

// unsafeSlice builds a byte slice over length bytes starting at addr, the
// same unsafe.Slice idiom kernel/mem/pmm/allocator uses to view a raw
// physical/kernel address as a Go slice.
func unsafeSlice(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

// unsafeBytesOf returns a pointer to v's 4-byte representation so it can
// be copied into a user buffer without reflect-based encoding.
func unsafeBytesOf(v *int32) unsafe.Pointer {
	return unsafe.Pointer(v)
}
