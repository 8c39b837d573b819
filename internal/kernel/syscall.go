package kernel

import (
	"fmt"

	"github.com/antunesluis/so24b/internal/device"
)

// Syscall numbers a process places in register A before trapping into the
// kernel via the SYSCALL IRQ. READ and WRITE carry no further argument
// beyond the process's own terminal; SPAWN's X is the virtual address of
// the program name string; KILL and WAIT's X is a target pid (0 meaning
// "self" for KILL).
const (
	SyscallRead  = 1
	SyscallWrite = 2
	SyscallSpawn = 3
	SyscallKill  = 4
	SyscallWait  = 5
)

// handleSyscall decodes the current process's pending syscall from its
// salvaged A register and dispatches it. An unrecognized syscall number
// kills the offending process AND raises a kernel fault — spec.md §4.7 and
// §8 scenario 4 both require both: the process dies, but the kernel also
// aborts (after finalizing metrics), matching the original's
// `so_processa_morte_proc` followed by setting `erro_interno`.
func (k *Kernel) handleSyscall() {
	cur := k.current
	if cur == nil {
		k.fault("syscall IRQ with no current process")
		return
	}
	switch cur.A {
	case SyscallRead:
		k.syscallRead(cur)
	case SyscallWrite:
		k.syscallWrite(cur)
	case SyscallSpawn:
		k.syscallSpawn(cur)
	case SyscallKill:
		k.syscallKill(cur)
	case SyscallWait:
		k.syscallWait(cur)
	default:
		k.log.Warn().Int("pid", cur.PID).Int("syscall", cur.A).Msg("kernel: unknown syscall, killing process")
		k.kill(cur)
		k.fault("unknown syscall id %d from pid %d", cur.A, cur.PID)
	}
}

// syscallRead blocks the process awaiting a keyboard byte; the pending
// sweep delivers the result into A and unblocks it once the terminal
// reports data ready.
func (k *Kernel) syscallRead(d *Descriptor) {
	k.block(d, AwaitingRead)
}

// syscallWrite blocks the process awaiting screen availability; X already
// holds the byte to write, so the sweep needs no further argument.
func (k *Kernel) syscallWrite(d *Descriptor) {
	k.block(d, AwaitingWrite)
}

// syscallSpawn resolves the program name from the caller's address space
// and creates a new process for it, reporting the child's pid in A (or -1
// on failure). Spawn never blocks the caller.
func (k *Kernel) syscallSpawn(d *Descriptor) {
	name, err := k.readName(d, d.X)
	if err != nil {
		k.log.Warn().Int("pid", d.PID).Err(err).Msg("kernel: spawn failed to read program name")
		d.A = -1
		return
	}
	child, err := k.spawn(name, d.PID)
	if err != nil {
		k.log.Warn().Int("pid", d.PID).Str("program", name).Err(err).Msg("kernel: spawn failed")
		d.A = -1
		return
	}
	d.A = child.PID
}

// syscallKill kills the target pid in X (0 meaning self) and reports 0 on
// success or -1 if the target does not exist.
func (k *Kernel) syscallKill(d *Descriptor) {
	target := d.X
	if target == 0 {
		target = d.PID
	}
	victim := k.table.byPID(target)
	if victim == nil {
		d.A = -1
		return
	}
	k.kill(victim)
	d.A = 0
}

// syscallWait blocks the caller on the target pid in X, unless the target
// is already dead (or nonexistent), in which case WAIT returns
// immediately and the caller is never moved off the ready queue's front.
func (k *Kernel) syscallWait(d *Descriptor) {
	target := k.table.byPID(d.X)
	if target == nil || target.State == Dead {
		d.A = 0
		return
	}
	d.WaitTarget = d.X
	k.block(d, AwaitingProcess)
}

// readName copies a NUL-terminated string of at most MaxNameBytes bytes
// from d's virtual address space starting at addr. Per spec.md §9 open
// question 3, a miss in the MMU's translation (the page housing the name
// is not resident, and SPAWN does not go through the ordinary page-fault
// path) falls through to a direct read of d's secondary-storage image at
// the same offset, rather than failing the whole call outright.
func (k *Kernel) readName(d *Descriptor, addr int) (string, error) {
	var out []byte
	for i := 0; i < k.config.MaxNameBytes; i++ {
		v, err := k.dev.MMU.Read(addr+i, device.ModeUser)
		if err != nil {
			v, err = k.dev.Disk.ReadAt(d.SecondaryBase + addr + i)
			if err != nil {
				return "", fmt.Errorf("reading program name byte %d: %w", i, err)
			}
		}
		if v == 0 {
			return string(out), nil
		}
		out = append(out, byte(v))
	}
	return "", fmt.Errorf("program name exceeds %d bytes", k.config.MaxNameBytes)
}
