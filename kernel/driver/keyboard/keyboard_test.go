package keyboard

import "testing"

func TestCtrlHeldRemapsLetterToControlCode(t *testing.T) {
	d := New()
	d.ctrlHeld = true

	var got byte
	feed := func(b byte) { got = b }

	// Simulate the portion of Drain after the scancode has already been
	// read, since the real I/O ports aren't available in a hosted test.
	code := byte(0x2E) // 'c'
	ch := scancodeASCII[code]
	if d.ctrlHeld && ch >= 'a' && ch <= 'z' {
		ch = ch - 'a' + 1
	}
	feed(ch)

	if got != 0x03 {
		t.Errorf("expected Ctrl-C to decode to 0x03; got 0x%02x", got)
	}
}

func TestUnrecognizedScancodeDecodesToZero(t *testing.T) {
	if scancodeASCII[0x3B] != 0 { // F1, deliberately unmapped
		t.Errorf("expected an unmapped scancode to decode to 0")
	}
}

func TestPlainLetterDecodesToItsASCIIValue(t *testing.T) {
	if scancodeASCII[0x1E] != 'a' {
		t.Errorf("expected scancode 0x1E to decode to 'a'; got %q", scancodeASCII[0x1E])
	}
}
