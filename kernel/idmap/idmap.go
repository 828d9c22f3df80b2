// Package idmap implements the fixed 1024-bucket chaining hash table used
// to map pid/pgid/sid integer keys to opaque kernel records, per spec.md
// 4.4. One generic Table type is instantiated three times by kernel/proc,
// mirroring the single pid_hash_table_t implementation the original kernel
// reuses for all three lookups.
package idmap

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

// ErrNotFound is returned by Lookup/Delete for a key with no entry.
var ErrNotFound = errors.New("idmap", kernel.KindNotFound, "key not present")

// ErrAlreadyExists is returned by Insert when the key is already present.
var ErrAlreadyExists = errors.New("idmap", kernel.KindAlreadyExists, "key already present")

const (
	bucketBits  = 10
	bucketCount = 1 << bucketBits
	bucketMask  = bucketCount - 1
)

// node is one entry in a bucket's singly-linked chain.
type node struct {
	key  uint32
	val  unsafe.Pointer
	next *node
}

const nodeSize = uintptr(unsafe.Sizeof(node{}))

// Table is a fixed 1024-bucket chaining hash table over uint32 keys,
// backed by a dedicated virtual arena into which node pages are mapped one
// at a time as the freelist runs dry.
type Table struct {
	buckets [bucketCount]*node

	free     *node
	arena    uintptr
	mapped   uintptr
	allocate func() (pmm.Frame, *kernel.Error)
}

// mapRangeFn is mocked by tests; automatically inlined by the compiler when
// building the kernel image.
var mapRangeFn = vmm.MapRange

// New initializes a Table whose node arena starts at base, a distinct
// region within vmm.IDMapArenaBase chosen by the caller (kernel/proc hands
// out one slot each for {pid, pgid, sid} tables).
func New(base uintptr, allocate func() (pmm.Frame, *kernel.Error)) *Table {
	return &Table{arena: base, mapped: base, allocate: allocate}
}

// allocNode returns a zeroed node, mapping a fresh page of them into the
// arena if the freelist is empty.
func (t *Table) allocNode() (*node, *kernel.Error) {
	if t.free == nil {
		frame, err := t.allocate()
		if err != nil {
			return nil, err
		}
		if err := mapRangeFn(vmm.ActiveTable(), t.mapped, frame, 1, mem.PageSize, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return nil, err
		}
		mem.Memset(t.mapped, 0, mem.PageSize)

		nodesPerPage := uintptr(mem.PageSize) / nodeSize
		page := t.mapped
		for i := uintptr(0); i < nodesPerPage; i++ {
			n := (*node)(unsafe.Pointer(page + i*nodeSize))
			n.next = t.free
			t.free = n
		}
		t.mapped += uintptr(mem.PageSize)
	}

	n := t.free
	t.free = n.next
	n.next = nil
	return n, nil
}

func bucketOf(key uint32) int {
	return int(key & bucketMask)
}

// Insert adds key → val. It fails with ErrAlreadyExists if key is already
// present in the table.
func (t *Table) Insert(key uint32, val unsafe.Pointer) *kernel.Error {
	b := bucketOf(key)
	for n := t.buckets[b]; n != nil; n = n.next {
		if n.key == key {
			return ErrAlreadyExists
		}
	}

	n, err := t.allocNode()
	if err != nil {
		return err
	}
	n.key = key
	n.val = val
	n.next = t.buckets[b]
	t.buckets[b] = n
	return nil
}

// Lookup returns the value stored for key, or ErrNotFound.
func (t *Table) Lookup(key uint32) (unsafe.Pointer, *kernel.Error) {
	for n := t.buckets[bucketOf(key)]; n != nil; n = n.next {
		if n.key == key {
			return n.val, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes key's entry, returning the node to the freelist.
func (t *Table) Delete(key uint32) *kernel.Error {
	b := bucketOf(key)
	var prev *node
	for n := t.buckets[b]; n != nil; prev, n = n, n.next {
		if n.key != key {
			continue
		}

		if prev == nil {
			t.buckets[b] = n.next
		} else {
			prev.next = n.next
		}
		n.val = nil
		n.next = t.free
		t.free = n
		return nil
	}
	return ErrNotFound
}
