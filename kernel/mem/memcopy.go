package mem

import (
	"reflect"
	"unsafe"
)

// Memcopy copies size bytes from src to dst. Like Memset, it overlays Go
// slices on top of raw addresses since no allocator is guaranteed to be
// available at every call site.
func Memcopy(src, dst uintptr, size Size) {
	if size == 0 {
		return
	}

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))

	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstSlice, srcSlice)
}
