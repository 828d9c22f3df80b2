package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// Outb writes a byte to an I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from an I/O port.
func Inb(port uint16) uint8

// Outw writes a 16-bit word to an I/O port.
func Outw(port uint16, value uint16)

// Inw reads a 16-bit word from an I/O port.
func Inw(port uint16) uint16
