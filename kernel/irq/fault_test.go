package irq

import (
	"testing"

	"hendkernel/kernel/proc"
)

func TestClassifyPageFaultNotPresentIsSegv(t *testing.T) {
	if got := classifyPageFault(0); got != proc.SigSegv {
		t.Errorf("expected SigSegv for a not-present fault; got %v", got)
	}
}

func TestClassifyPageFaultPresentIneligibleIsBus(t *testing.T) {
	if got := classifyPageFault(pfPresent); got != proc.SigBus {
		t.Errorf("expected SigBus for a present, non-COW fault; got %v", got)
	}
}

func TestClassifyGPFZeroCodeIsIll(t *testing.T) {
	if got := classifyGPF(0); got != proc.SigIll {
		t.Errorf("expected SigIll for a zero error code; got %v", got)
	}
}

func TestClassifyGPFExternalIsSegv(t *testing.T) {
	code := uint64(1<<0) | 0x08 // external bit set, non-null selector
	if got := classifyGPF(code); got != proc.SigSegv {
		t.Errorf("expected SigSegv for an external GP fault; got %v", got)
	}
}

func TestClassifyGPFNullSelectorIsSegv(t *testing.T) {
	code := uint64(0) | (1 << 2) // ldt (TI) bit set, selector index 0
	if got := classifyGPF(code); got != proc.SigSegv {
		t.Errorf("expected SigSegv for a null-selector GP fault; got %v", got)
	}
}

func TestClassifyGPFOrdinarySelectorIsIll(t *testing.T) {
	code := uint64(0x08) // non-zero selector, no external/ldt/idt bits
	if got := classifyGPF(code); got != proc.SigIll {
		t.Errorf("expected SigIll for an ordinary non-zero selector GP fault; got %v", got)
	}
}
