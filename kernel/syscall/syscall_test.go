package syscall

import (
	"testing"

	"hendkernel/kernel"
	"hendkernel/kernel/proc"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		kind kernel.Kind
		want int64
	}{
		{kernel.KindInvalidArgument, -22},
		{kernel.KindNotFound, -2},
		{kernel.KindAlreadyExists, -17},
		{kernel.KindPermissionDenied, -13},
		{kernel.KindWouldBlock, -11},
		{kernel.KindIoFailure, -5},
		{kernel.KindAllocationFailure, -12},
		{kernel.KindNotSupported, -38},
		{kernel.KindUnspecified, -1},
	}
	for _, c := range cases {
		if got := errno(c.kind); got != c.want {
			t.Errorf("errno(%v) = %d; want %d", c.kind, got, c.want)
		}
	}
}

func TestDispatchOutOfRangeSyscallReturnsInvalidArgument(t *testing.T) {
	sc := New(&proc.Scheduler{}, nil, nil, nil)
	p := &proc.Process{}
	p.Frame.RAX = TableSize

	sc.Dispatch(p)

	if int64(p.Frame.RAX) != errno(kernel.KindInvalidArgument) {
		t.Fatalf("expected an out-of-range syscall number to report EINVAL; got rax=%d", p.Frame.RAX)
	}
}

func TestDispatchUnusedSlotIsNoop(t *testing.T) {
	sc := New(&proc.Scheduler{}, nil, nil, nil)
	p := &proc.Process{}
	p.Frame.RAX = 100 // not one of the syscalls New registers

	sc.Dispatch(p)

	if p.Frame.RAX != 0 {
		t.Fatalf("expected an unregistered syscall slot to be a no-op; got rax=%d", p.Frame.RAX)
	}
}

func TestResolvePidZeroMeansSelf(t *testing.T) {
	sc := New(&proc.Scheduler{}, nil, nil, nil)
	p := &proc.Process{PID: 42}

	got, err := resolvePid(sc, p, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != p {
		t.Fatalf("expected pid=0 to resolve to the calling process")
	}
}
