package idmap

import (
	"testing"
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

func withNoopMapRange(t *testing.T) func() {
	t.Helper()
	orig := mapRangeFn
	mapRangeFn = func(vmm.Table, uintptr, pmm.Frame, uint64, mem.Size, vmm.PageTableEntryFlag) *kernel.Error {
		return nil
	}
	return func() { mapRangeFn = orig }
}

func hostBackedFrames(pages int) func() (pmm.Frame, *kernel.Error) {
	backing := make([]byte, pages*int(mem.PageSize))
	next := 0
	return func() (pmm.Frame, *kernel.Error) {
		if next >= pages {
			return pmm.InvalidFrame, ErrNotFound
		}
		addr := uintptr(unsafe.Pointer(&backing[next*int(mem.PageSize)]))
		next++
		return pmm.Frame(addr >> mem.PageShift), nil
	}
}

func newHostTable(t *testing.T, pages int) *Table {
	t.Helper()
	frames := hostBackedFrames(pages)
	base, err := frames()
	if err != nil {
		t.Fatalf("unexpected error reserving arena base: %v", err)
	}
	return New(base.Address(), frames)
}

func TestInsertLookupDelete(t *testing.T) {
	defer withNoopMapRange(t)()
	tbl := newHostTable(t, 2)

	var procA, procB int
	if err := tbl.Insert(1, unsafe.Pointer(&procA)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tbl.Insert(2, unsafe.Pointer(&procB)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := tbl.Lookup(1)
	if err != nil || got != unsafe.Pointer(&procA) {
		t.Fatalf("expected to find pid 1; got %v, err=%v", got, err)
	}

	if err := tbl.Delete(1); err != nil {
		t.Fatalf("unexpected error deleting: %v", err)
	}

	if _, err := tbl.Lookup(1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete; got %v", err)
	}

	if got, err := tbl.Lookup(2); err != nil || got != unsafe.Pointer(&procB) {
		t.Fatalf("expected pid 2 to remain; got %v, err=%v", got, err)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	defer withNoopMapRange(t)()
	tbl := newHostTable(t, 2)

	var p int
	if err := tbl.Insert(42, unsafe.Pointer(&p)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tbl.Insert(42, unsafe.Pointer(&p)); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on duplicate insert; got %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	defer withNoopMapRange(t)()
	tbl := newHostTable(t, 2)

	if err := tbl.Delete(999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
}

func TestEachKeyInAtMostOneBucket(t *testing.T) {
	defer withNoopMapRange(t)()
	tbl := newHostTable(t, 4)

	var storage [300]int
	for i := 0; i < len(storage); i++ {
		if err := tbl.Insert(uint32(i), unsafe.Pointer(&storage[i])); err != nil {
			t.Fatalf("unexpected error inserting %d: %v", i, err)
		}
	}

	seen := map[uint32]int{}
	for b := range tbl.buckets {
		for n := tbl.buckets[b]; n != nil; n = n.next {
			seen[n.key]++
		}
	}

	for i := 0; i < len(storage); i++ {
		if seen[uint32(i)] != 1 {
			t.Errorf("expected key %d to appear exactly once across buckets; appeared %d times", i, seen[uint32(i)])
		}
	}
}

func TestFreelistNodeReusedAfterDelete(t *testing.T) {
	defer withNoopMapRange(t)()
	tbl := newHostTable(t, 2)

	var p int
	if err := tbl.Insert(5, unsafe.Pointer(&p)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	freeBefore := tbl.free

	if err := tbl.Delete(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.free == freeBefore {
		t.Fatalf("expected the deleted node to be pushed back onto the freelist")
	}

	if err := tbl.Insert(6, unsafe.Pointer(&p)); err != nil {
		t.Fatalf("unexpected error reinserting: %v", err)
	}
}
