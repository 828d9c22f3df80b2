// Package keyboard drains IRQ1 into ASCII bytes for a virtual console's
// line discipline. Full PS/2 decoding (shift state, extended 0xE0 codes,
// toggle keys, function/arrow keys) is explicitly out of scope (spec.md
// Non-goals names "PS/2 keyboard/mouse low-level decoding"); this driver
// only recognizes the scancode-set-1 make codes for letters, digits,
// common punctuation, space, tab, backspace, enter and left-Ctrl, which
// is all vcon's canonical
// mode and job-control signals need. Grounded on
// src/drivers/keyboard.c's scancode_normal table and its
// pressed := !(scancode & 0x80) release-bit convention.
package keyboard

import "hendkernel/kernel/cpu"

const (
	dataPort   = 0x60
	statusPort = 0x64

	releaseBit = 0x80

	scanLeftCtrl = 0x1D
)

// scancodeASCII maps the scancode-set-1 make codes this driver
// recognizes to their unshifted ASCII byte; everything else decodes to 0
// and is dropped.
var scancodeASCII = [128]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0A: '9', 0x0B: '0',
	0x0C: '-', 0x0D: '=', 0x0E: '\b', 0x0F: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1A: '[', 0x1B: ']', 0x1C: '\n',
	0x1E: 'a', 0x1F: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l', 0x27: ';',
	0x28: '\'', 0x29: '`',
	0x2B: '\\', 0x2C: 'z', 0x2D: 'x', 0x2E: 'c', 0x2F: 'v',
	0x30: 'b', 0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.', 0x35: '/',
	0x39: ' ',
}

// Driver tracks the left-Ctrl key state across interrupts, so it can
// remap a letter scancode to its control-code byte (spec.md 4.12's
// Ctrl-C/Ctrl-\/Ctrl-Z) instead of its plain ASCII value while Ctrl is
// held down.
type Driver struct {
	ctrlHeld bool
}

// New constructs an idle Driver.
func New() *Driver { return &Driver{} }

// Drain reads one pending scancode off the controller and, if it decodes
// to a recognized byte, passes it to feed. Registered as the keyboard
// IRQ's drain hook (kernel/irq.SetKeyboardDrain).
func (d *Driver) Drain(feed func(byte)) {
	if cpu.Inb(statusPort)&0x01 == 0 {
		return
	}
	scancode := cpu.Inb(dataPort)
	pressed := scancode&releaseBit == 0
	code := scancode &^ releaseBit

	if code == scanLeftCtrl {
		d.ctrlHeld = pressed
		return
	}
	if !pressed {
		return
	}

	ch := scancodeASCII[code]
	if ch == 0 {
		return
	}
	if d.ctrlHeld && ch >= 'a' && ch <= 'z' {
		ch = ch - 'a' + 1 // Ctrl-A=0x01 .. Ctrl-Z=0x1A, matching the ASCII control-code convention
	} else if d.ctrlHeld && ch == '\\' {
		ch = 0x1C
	}
	feed(ch)
}
