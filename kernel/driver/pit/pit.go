// Package pit programs the legacy 8253/8254 Programmable Interval Timer
// to fire channel 0 at spec.md 6's ~50 Hz tick rate. Unlike the rest of
// this kernel's drivers, neither the teacher nor original_source carries
// a PIT file to ground this on (original_source's pic.h only has the PIC
// remap constants); the port sequence here follows the standard
// 8253/8254 mode-3 square-wave protocol, in the same bodiless-port-I/O
// idiom kernel/cpu and kernel/device/blockdev already establish.
package pit

import "hendkernel/kernel/cpu"

const (
	channel0Data = 0x40
	commandPort  = 0x43

	// mode3RateGen selects channel 0, low/high byte access, mode 3
	// (square wave generator), binary counting.
	mode3RateGen = 0x36

	// baseFrequency is the PIT's fixed input clock in Hz.
	baseFrequency = 1193182

	// TickHz is the frequency this kernel programs channel 0 to fire at.
	TickHz = 50
)

// Init programs channel 0 to fire at TickHz, the frequency IRQ 0x20's
// timer handler expects to be driven at.
func Init() {
	divisor := uint16(baseFrequency / TickHz)
	cpu.Outb(commandPort, mode3RateGen)
	cpu.Outb(channel0Data, uint8(divisor))
	cpu.Outb(channel0Data, uint8(divisor>>8))
}
