package mem

import (
	"testing"
	"unsafe"
)

func TestMemcopy(t *testing.T) {
	// memcopy with a 0 size should be a no-op
	Memcopy(uintptr(0), uintptr(0), 0)

	src := make([]byte, PageSize)
	dst := make([]byte, PageSize)
	for i := range src {
		src[i] = byte(i)
		dst[i] = 0xFE
	}

	Memcopy(uintptr(unsafe.Pointer(&src[0])), uintptr(unsafe.Pointer(&dst[0])), Size(len(src)))

	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("expected byte %d to be %x; got %x", i, src[i], dst[i])
		}
	}
}
