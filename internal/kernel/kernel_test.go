package kernel_test

import (
	"testing"

	"github.com/antunesluis/so24b/internal/device"
	"github.com/antunesluis/so24b/internal/kernel"
	"github.com/antunesluis/so24b/internal/simref"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const pageSize = 8

// harness bundles a booted kernel with the simref collaborators tests
// poke directly to simulate CPU traps, since this module's reference
// devices do not execute real instructions.
type harness struct {
	k     *kernel.Kernel
	cpu   *simref.CPU
	mem   *simref.Memory
	clock *simref.Clock
}

func newHarness(t *testing.T, frames int, images map[string][]byte, opts ...kernel.Option) *harness {
	t.Helper()

	cpu := simref.NewCPU()
	mem := simref.NewMemory(4096)
	mmu := simref.NewMMU(mem, pageSize)
	disk := simref.NewDisk(65536)
	terms := simref.NewTerminalBank()
	clock := simref.NewClock()

	loader := simref.NewLoader()
	for name, img := range images {
		loader.Register(name, img)
	}

	devices := kernel.Devices{
		CPU:       cpu,
		Memory:    mem,
		MMU:       mmu,
		Disk:      disk,
		Terminals: terms,
		Timer:     clock,
	}

	allOpts := append([]kernel.Option{
		kernel.WithTotalFrames(frames),
		kernel.WithPageSize(pageSize),
	}, opts...)

	k := kernel.New(devices, loader, zerolog.Nop(), allOpts...)
	return &harness{k: k, cpu: cpu, mem: mem, clock: clock}
}

func (h *harness) reset(t *testing.T) {
	t.Helper()
	h.cpu.Trigger(device.IRQReset)
	require.False(t, h.k.InternalFault(), "kernel faulted on reset")
}

func (h *harness) syscall(t *testing.T, number, arg int) {
	t.Helper()
	require.NoError(t, h.mem.Write(device.CellA, number))
	require.NoError(t, h.mem.Write(device.CellX, arg))
	h.cpu.Trigger(device.IRQSyscall)
}

func (h *harness) cpuError(t *testing.T, code device.ErrCode, complement int) {
	t.Helper()
	require.NoError(t, h.mem.Write(device.CellErrorCode, int(code)))
	require.NoError(t, h.mem.Write(device.CellErrorComplement, complement))
	h.cpu.Trigger(device.IRQCPUError)
}

// tickUntilReady drives the clock until pid is Ready again (e.g. waiting
// out a page-load delay), up to maxTicks, failing the test if it never
// happens.
func (h *harness) tickUntilReady(t *testing.T, pid, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		h.clock.Advance(1)
		h.cpu.Trigger(device.IRQClock)
		st, err := h.k.ProcessState(pid)
		require.NoError(t, err)
		if st == kernel.Ready {
			return
		}
	}
	t.Fatalf("process %d did not return to ready within %d ticks", pid, maxTicks)
}

// nameImage builds a process image whose first bytes are a NUL-terminated
// program name, the way SPAWN's fallback name read expects to find it
// on the caller's own disk image.
func nameImage(name string, totalLen int) []byte {
	img := make([]byte, totalLen)
	copy(img, name)
	return img
}

func TestSingleInitNeverSpawnsStaysReady(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{"init": nameImage("init", 16)})
	h.reset(t)

	require.Equal(t, 1, h.k.ProcessCount())
	require.Equal(t, 1, h.k.CurrentPID())

	for i := 0; i < 5; i++ {
		h.clock.Advance(1)
		h.cpu.Trigger(device.IRQClock)
	}

	require.False(t, h.k.InternalFault())
	st, err := h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Ready, st)
	require.Equal(t, 1, h.k.CurrentPID())
}

func TestSpawnWaitKillPingPong(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{
		"init":  nameImage("child", 16),
		"child": nameImage("child", 16),
	})
	h.reset(t)

	h.syscall(t, kernel.SyscallSpawn, 0)
	require.False(t, h.k.InternalFault())
	require.Equal(t, 2, h.k.ProcessCount())

	childState, err := h.k.ProcessState(2)
	require.NoError(t, err)
	require.Equal(t, kernel.Ready, childState)

	h.syscall(t, kernel.SyscallWait, 2)
	require.False(t, h.k.InternalFault())
	initState, err := h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Blocked, initState)
	require.Equal(t, 2, h.k.CurrentPID())

	h.syscall(t, kernel.SyscallKill, 0)
	require.False(t, h.k.InternalFault())

	childState, err = h.k.ProcessState(2)
	require.NoError(t, err)
	require.Equal(t, kernel.Dead, childState)

	initState, err = h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Ready, initState)
	require.Equal(t, 1, h.k.CurrentPID())
}

func TestSelfWaitIdlesWithoutFault(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{"init": nameImage("init", 16)})
	h.reset(t)

	h.syscall(t, kernel.SyscallWait, 1)
	require.False(t, h.k.InternalFault())

	st, err := h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Blocked, st)
	require.Equal(t, 0, h.k.CurrentPID())
}

func TestUnknownSyscallKillsProcessAndFaultsKernel(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{"init": nameImage("init", 16)})
	h.reset(t)

	h.syscall(t, 999, 0)
	require.True(t, h.k.InternalFault(), "an unknown syscall must raise internal_error, not just kill the process")

	var kf *kernel.KernelFault
	require.ErrorAs(t, h.k.Err(), &kf)

	st, err := h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Dead, st)
}

func TestPageFaultFreeFrame(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{"init": nameImage("init", 32)})
	h.reset(t)

	// addr=3 is a non-page-aligned byte offset inside page 0 (pageSize=8);
	// handlePageFault must divide it down to vpage 0, not treat 3 itself
	// as a page number.
	h.cpuError(t, device.ErrPageAbsent, 3)
	require.False(t, h.k.InternalFault())

	st, err := h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Blocked, st)

	h.tickUntilReady(t, 1, 20)
	require.False(t, h.k.InternalFault())
}

func TestPageFaultTriggersReplacementUnderFramePressure(t *testing.T) {
	// total=2: frame 0 is reserved for the kernel image, leaving exactly
	// one usable frame, so a second page fault forces an eviction.
	h := newHarness(t, 2, map[string][]byte{"init": nameImage("init", 32)})
	h.reset(t)

	h.cpuError(t, device.ErrPageAbsent, 2)
	require.False(t, h.k.InternalFault())
	h.tickUntilReady(t, 1, 20)

	// addr=pageSize+2 is a non-aligned offset inside page 1; this must
	// resolve to vpage 1 (not vpage "pageSize+2") and evict the page 0
	// frame loaded above.
	h.cpuError(t, device.ErrPageAbsent, pageSize+2)
	require.False(t, h.k.InternalFault())
	st, err := h.k.ProcessState(1)
	require.NoError(t, err)
	require.Equal(t, kernel.Blocked, st)

	h.tickUntilReady(t, 1, 20)
	require.False(t, h.k.InternalFault())
}

func TestUnknownSchedulerPolicyFaultsOnFirstTick(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{"init": nameImage("init", 16)}, kernel.WithPolicy(kernel.Policy(99)))

	// The invalid policy can't be rejected until the scheduler is first
	// consulted, so the fault surfaces on the reset tick itself rather
	// than at construction — this is why we trigger directly instead of
	// going through h.reset, which asserts no fault on reset.
	h.cpu.Trigger(device.IRQReset)

	require.True(t, h.k.InternalFault(), "an unrecognized scheduler policy must fault the kernel on first pick")
	require.True(t, h.k.Halted())
}

func TestWriteReportProducesOneBlockPerProcess(t *testing.T) {
	h := newHarness(t, 4, map[string][]byte{
		"init":  nameImage("child", 16),
		"child": nameImage("child", 16),
	})
	h.reset(t)
	h.syscall(t, kernel.SyscallSpawn, 0)
	h.syscall(t, kernel.SyscallKill, 2)

	var w fakeWriter
	require.NoError(t, h.k.WriteReport(&w))
	require.Contains(t, w.String(), "process 1")
	require.Contains(t, w.String(), "process 2")
}

type fakeWriter struct {
	data []byte
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *fakeWriter) String() string { return string(w.data) }
