package kmain

import (
	"hendkernel/kernel"
	"hendkernel/kernel/cpu"
	"hendkernel/kernel/device"
	"hendkernel/kernel/device/blockdev"
	"hendkernel/kernel/device/vcon"
	"hendkernel/kernel/driver/keyboard"
	"hendkernel/kernel/driver/pit"
	"hendkernel/kernel/exec/elf"
	"hendkernel/kernel/fs/ext2"
	"hendkernel/kernel/fs/vfs"
	"hendkernel/kernel/goruntime"
	"hendkernel/kernel/hal"
	"hendkernel/kernel/hal/multiboot"
	"hendkernel/kernel/irq"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/heap"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/pmm/allocator"
	"hendkernel/kernel/mem/vmm"
	"hendkernel/kernel/proc"
	"hendkernel/kernel/syscall"
)

// vconCount is the fixed number of virtual console devices this kernel
// exposes under /dev, per spec.md 4.12.
const vconCount = 128

// initPath is the image ELF-loaded as pid 1 once the root filesystem is
// mounted, per spec.md 6.5(a).
const initPath = "/bin/init"

// heapLimitPages bounds how far the kernel's general-purpose heap can grow
// before Allocator.grow starts failing requests.
const heapLimitPages = 1 << 18

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	// allocator.Init brings up the early bootstrap allocator, then the
	// VMM's own reserved-zeroed-frame bootstrap, then the permanent
	// bitmap allocator that takes over as the VMM's frame source.
	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	} else if err = heap.Init(heapLimitPages, allocator.AllocFrame); err != nil {
		panic(err)
	}

	sched := proc.New(allocator.AllocFrame)
	irq.Init(sched)

	disk := &blockdev.Disk{}
	partition, err := blockdev.ReadPartition1(disk)
	if err != nil {
		panic(err)
	}
	partDisk := blockdev.NewPartitionDisk(disk, partition)

	fs, err := ext2.Mount(partDisk)
	if err != nil {
		panic(err)
	}
	tree := vfs.Mount(fs)

	devices := device.NewManager()
	kbd := keyboard.New()
	consoles := make([]*vcon.Console, vconCount)
	for i := 0; i < vconCount; i++ {
		cons := vcon.New(i, hal.ActiveTerminal, sched)
		consoles[i] = cons
		dev := devices.Create(0)
		cons.BindDevice(dev)
		tree.RegisterDevice(consoleDeviceName(i), cons)
	}
	irq.SetKeyboardDrain(func() {
		kbd.Drain(consoles[0].FeedByte)
	})
	pit.Init()

	alloc2M := func() (pmm.Frame, *kernel.Error) {
		return allocator.FrameAllocator.Allocate(mem.Mb * 2)
	}
	exec := elf.New(tree, allocator.FrameAllocator.Allocate4K, alloc2M)
	sc := syscall.New(sched, tree, exec, allocator.AllocFrame)
	irq.SetSyscallHandler(sc.Dispatch)

	bootProc, err := sched.InitBoot(vmm.ActiveTable())
	if err != nil {
		panic(err)
	}
	bootProc.Cwd = tree.Root()
	if err = exec.Exec(bootProc, initPath); err != nil {
		panic(err)
	}

	irq.SwitchTo(bootProc)
	cpu.EnableInterrupts()

	// The timer IRQ drives every subsequent context switch; idle here
	// until the next tick hands control to bootProc via its iret.
	for {
		cpu.Halt()
	}
}

// consoleDeviceName renders the fixed /dev/consoleN naming scheme vcon
// devices register under.
func consoleDeviceName(i int) string {
	return "console" + itoa(i)
}

// itoa renders a non-negative int in decimal, the minimal replacement for
// strconv.Itoa this freestanding kernel can't import (it pulls in the host
// runtime's reflection-based formatting machinery).
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
