package pmm

import (
	"testing"

	"hendkernel/kernel/mem"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.IsValid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<mem.PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.IsValid() {
		t.Error("expected InvalidFrame.IsValid() to return false")
	}
}

func TestSuperframe(t *testing.T) {
	specs := []struct {
		frame   Frame
		super   uint64
	}{
		{0, 0},
		{511, 0},
		{512, 1},
		{1023, 1},
		{1024, 2},
	}

	for i, spec := range specs {
		if got := spec.frame.Superframe(); got != spec.super {
			t.Errorf("[spec %d] expected superframe %d; got %d", i, spec.super, got)
		}
	}

	if got := SuperframeBase(2); got != Frame(1024) {
		t.Errorf("expected SuperframeBase(2) = 1024; got %d", got)
	}
}
