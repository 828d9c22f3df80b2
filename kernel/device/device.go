// Package device implements the device manager spec.md 4.7/6.7 describes:
// an opaque record per device carrying a 128-slot vtable and a bounded
// SPSC callback queue, plus a registry devices are created and looked up
// through. Grounded on src/kernel/device.c and include/kernel/device.h's
// MAX_DEV_CALLBACKS/DEV_CALLBACK_QUEUE_ENTRY_COUNT constants and its
// reserved-slot numbering, carried verbatim into this package.
package device

import (
	"hendkernel/kernel"
	"hendkernel/kernel/errors"
)

// VtableSize is the fixed vtable width every device carries,
// MAX_DEV_CALLBACKS in device.h.
const VtableSize = 128

// QueueSize is the fixed depth of a device's callback event ring,
// DEV_CALLBACK_QUEUE_ENTRY_COUNT in device.h.
const QueueSize = 73

// Reserved vtable slot numbers, fixed across every device (spec.md 6.7).
const (
	SlotForegroundSet = 4
	SlotForegroundGet = 5

	SlotWrite = 124
	SlotRead  = 125
	SlotOpen  = 126
	SlotClose = 127
)

// ErrNoSuchDevice is returned by the registry for an unknown device ID.
var ErrNoSuchDevice = errors.New("device", kernel.KindNotFound, "no device with that id")

// ErrAccessDenied is returned when a caller's GID is not on a device's
// access (or trust) list.
var ErrAccessDenied = errors.New("device", kernel.KindPermissionDenied, "caller is not granted access to this device")

// KernelFunc is a vtable slot backed directly by kernel code, called
// synchronously from the syscall that invoked the slot.
type KernelFunc func(dev *Device, args []uint64) (int64, *kernel.Error)

// CallbackMagic is the fixed signature-verification word every registered
// callback signature must carry, "DVECLLBK" read little-endian
// (DEV_CALLBACK_SIGNATURE_MAGIC in device.h).
const CallbackMagic uint64 = 0x4B424C4C43455644

// MaxArgs is the fixed number of argument descriptors (and argument words)
// a callback signature/event carries, MAX_DEV_CALLBACK_ARGS in device.h.
const MaxArgs = 6

// ArgKind classifies one callback argument slot: a plain integer or a
// pointer crossing the user/kernel boundary in a given direction,
// dev_arg_type in device.h.
type ArgKind uint8

const (
	ArgInt ArgKind = iota
	ArgPtrIn
	ArgPtrOut
	ArgPtrInOut
	ArgNone
)

// SizeKind says whether an argument descriptor's Size is fixed or is
// instead supplied at call time by another argument, dev_size_type in
// device.h.
type SizeKind uint8

const (
	SizeStatic SizeKind = iota
	SizeDynamic
)

// ArgDescriptor describes one of a callback's up to MaxArgs arguments:
// its kind, whether its size is static or supplied dynamically, and
// (for a static size) the size itself or (for a dynamic size) the index
// of the argument word carrying the size, dev_callback_args in device.h.
type ArgDescriptor struct {
	Kind        ArgKind
	Size        SizeKind
	SizeOrIndex uint64
}

// Signature describes a user-registered callback: its magic, its
// argument-descriptor array, and the user-side entry point,
// dev_callback_signature in device.h. The vtable slot it is bound under
// is passed to RegisterCallback and is not stored in the Signature.
type Signature struct {
	Magic uint64
	Args  [MaxArgs]ArgDescriptor
	Entry uint64 // user-side function entry point, opaque to the kernel
}

// vtableEntry is exactly one of a kernel function or a registered user
// callback signature.
type vtableEntry struct {
	kernel KernelFunc
	user   *Signature
}

// Event is one posted (slot, args) callback invocation queued for a
// device's owning process to drain, callback_event_queue_entry_t in
// device.h (fn_id plus MaxArgs argument words).
type Event struct {
	Slot int
	Args [MaxArgs]uint64
}

// queue is the 73-slot SPSC ring spec.md 4.7/6's device callback queue:
// the kernel is the sole producer, the owning process the sole consumer
// (spec.md Non-goals list confirms no multi-consumer support is needed).
// Push drops the oldest entry on overflow rather than blocking the
// producer, matching scenario S6.
type queue struct {
	slots      [QueueSize]Event
	head, tail int
	full       bool
}

func (q *queue) push(ev Event) {
	q.slots[q.tail] = ev
	q.tail = (q.tail + 1) % QueueSize
	if q.full {
		q.head = q.tail
	}
	if q.tail == q.head {
		q.full = true
	}
}

// pop removes and returns the oldest queued event.
func (q *queue) pop() (Event, bool) {
	if q.head == q.tail && !q.full {
		return Event{}, false
	}
	ev := q.slots[q.head]
	q.head = (q.head + 1) % QueueSize
	q.full = false
	return ev, true
}

// Device is one registered device: its ID, a 128-slot vtable, a bounded
// event queue, and the access/trust/ownership bookkeeping spec.md 4.7
// fixes the contract for.
type Device struct {
	ID    uint32
	Owner uint32 // UID

	vtable [VtableSize]vtableEntry
	queue  queue

	// access is the set of GIDs granted basic call() permission; trust is
	// the (separate) set granted map_queue() permission. Kept as plain
	// maps, matching spec.md 4.7's "the current implementation keeps
	// these as stubs but the contract is fixed" — callers exercise the
	// grant/revoke/check surface even though no caller yet populates
	// either list at boot.
	access map[uint32]bool
	trust  map[uint32]bool
}

func newDevice(id uint32, owner uint32) *Device {
	return &Device{
		ID:     id,
		Owner:  owner,
		access: map[uint32]bool{},
		trust:  map[uint32]bool{},
	}
}

// BindKernel installs a kernel-backed function at slot.
func (d *Device) BindKernel(slot int, fn KernelFunc) {
	d.vtable[slot] = vtableEntry{kernel: fn}
}

// ErrBadSignature is returned by RegisterCallback when sig fails
// validation: a wrong magic, or a pointer argument whose dynamic size
// handle doesn't name an in-range int argument, per dev_register_callback.
var ErrBadSignature = errors.New("device", kernel.KindInvalidArgument, "malformed callback signature")

// RegisterCallback installs a user-side callback signature at slot, per
// dev_register_callback(dev_id, fn_id, signature): the magic must match
// and every pointer argument with a dynamic size must point back at an
// int-typed argument to carry that size.
func (d *Device) RegisterCallback(slot int, sig Signature) *kernel.Error {
	if slot < 0 || slot >= VtableSize {
		return errors.New("device", kernel.KindInvalidArgument, "vtable slot out of range")
	}
	if sig.Magic != CallbackMagic {
		return ErrBadSignature
	}
	for i := range sig.Args {
		arg := sig.Args[i]
		if arg.Kind != ArgPtrIn && arg.Kind != ArgPtrOut && arg.Kind != ArgPtrInOut {
			continue
		}
		if arg.Size != SizeDynamic {
			continue
		}
		idx := arg.SizeOrIndex
		if idx >= MaxArgs || sig.Args[idx].Kind != ArgInt {
			return ErrBadSignature
		}
	}
	d.vtable[slot] = vtableEntry{user: &sig}
	return nil
}

// UnregisterCallback clears slot's signature, invalidating it (a zero
// Signature's Magic never matches CallbackMagic), per
// dev_unregister_callback.
func (d *Device) UnregisterCallback(slot int) {
	if slot < 0 || slot >= VtableSize {
		return
	}
	d.vtable[slot] = vtableEntry{}
}

// Call invokes slot. A kernel-backed slot runs synchronously and returns
// its result; a user-backed slot instead enqueues a call event for the
// owning process to drain and returns immediately, per call(dev, slot,
// args)'s dual dispatch in spec.md 4.7.
func (d *Device) Call(slot int, args []uint64) (int64, *kernel.Error) {
	if slot < 0 || slot >= VtableSize {
		return 0, errors.New("device", kernel.KindInvalidArgument, "vtable slot out of range")
	}
	entry := d.vtable[slot]
	if entry.kernel != nil {
		return entry.kernel(d, args)
	}
	if entry.user != nil {
		var ev Event
		ev.Slot = slot
		for i := 0; i < len(ev.Args) && i < len(args); i++ {
			ev.Args[i] = args[i]
		}
		d.queue.push(ev)
		return 0, nil
	}
	return 0, errors.New("device", kernel.KindNotFound, "vtable slot is unbound")
}

// Post enqueues ev directly, used by drivers (keyboard, mouse) that feed a
// device's queue outside of a Call-driven vtable slot.
func (d *Device) Post(ev Event) {
	d.queue.push(ev)
}

// Poll removes and returns the oldest queued event for the owning process
// to consume, the map_queue() consumer side.
func (d *Device) Poll() (Event, bool) {
	return d.queue.pop()
}

// GrantAccess adds gid to the set permitted to Call this device.
func (d *Device) GrantAccess(gid uint32) { d.access[gid] = true }

// RevokeAccess removes gid from the access set.
func (d *Device) RevokeAccess(gid uint32) { delete(d.access, gid) }

// HasAccess reports whether gid may Call this device.
func (d *Device) HasAccess(gid uint32) bool { return d.access[gid] }

// GrantTrust adds gid to the set permitted to map_queue this device.
func (d *Device) GrantTrust(gid uint32) { d.trust[gid] = true }

// RevokeTrust removes gid from the trust set.
func (d *Device) RevokeTrust(gid uint32) { delete(d.trust, gid) }

// IsTrusted reports whether gid may map_queue this device.
func (d *Device) IsTrusted(gid uint32) bool { return d.trust[gid] }

// SetOwner reassigns the device's owning UID.
func (d *Device) SetOwner(uid uint32) { d.Owner = uid }
