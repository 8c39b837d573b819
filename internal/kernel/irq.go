package kernel

import "github.com/antunesluis/so24b/internal/device"

// initProgramName is the program the reset handler spawns to bootstrap the
// system, mirroring the original C assignment's fixed first argument.
const initProgramName = "init"

// handleIRQ performs the kind-specific half of the dispatch loop's step 3:
// bringing up the first process on reset, decoding a syscall, or reacting
// to a CPU error, or decrementing the current process's quantum on a
// clock IRQ (handleClock); the scheduler reads k.quantum when it runs
// next.
func (k *Kernel) handleIRQ(kind device.IRQ) {
	switch kind {
	case device.IRQReset:
		k.handleReset()
	case device.IRQSyscall:
		k.handleSyscall()
	case device.IRQCPUError:
		k.handleCPUError()
	case device.IRQClock:
		k.handleClock()
	}
}

// handleReset spawns the init process. A second reset (table already
// populated) is ignored rather than treated as fatal — the original
// simulator can legitimately deliver a spurious reset.
func (k *Kernel) handleReset() {
	if k.table.count > 0 {
		return
	}
	if _, err := k.spawn(initProgramName, 0); err != nil {
		k.fault("spawning init process: %v", err)
	}
}

// handleClock decrements the current process's remaining quantum by one
// tick, floored at zero; the scheduler observes the result on its next
// pick.
func (k *Kernel) handleClock() {
	if k.current == nil {
		return
	}
	if k.quantum > 0 {
		k.quantum--
	}
}

// handleCPUError reacts to the CPU_ERROR IRQ. A PAGE_ABSENT error triggers
// the page-fault handler; every other error code is process-fatal, per
// spec.md §9 open question 1 — it kills the offending process rather than
// halting the kernel, since a user program's own mistake should not bring
// the system down.
func (k *Kernel) handleCPUError() {
	cur := k.current
	if cur == nil {
		k.fault("CPU error IRQ with no current process")
		return
	}
	if cur.ErrorCode == device.ErrPageAbsent {
		k.handlePageFault(cur, cur.ErrorComplement)
		return
	}
	k.log.Warn().
		Int("pid", cur.PID).
		Str("error", errCodeName(cur.ErrorCode)).
		Int("complement", cur.ErrorComplement).
		Msg("kernel: process-fatal CPU error")
	k.kill(cur)
}

func errCodeName(c device.ErrCode) string {
	switch c {
	case device.ErrOK:
		return "ok"
	case device.ErrPageAbsent:
		return "page_absent"
	case device.ErrInvalidInstruction:
		return "invalid_instruction"
	case device.ErrInvalidAddress:
		return "invalid_address"
	default:
		return "unknown"
	}
}
