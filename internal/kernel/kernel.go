// Package kernel implements the pedagogical kernel core: the interrupt
// dispatcher, the process table and ready queue, the three pluggable
// schedulers, the blocking/unblocking state machine, the page-fault
// handler, the system-call surface, and metrics accounting. It is driven
// entirely by the device.CPU callback contract; nothing in here knows
// about real hardware.
package kernel

import (
	"fmt"

	"github.com/antunesluis/so24b/internal/device"
	"github.com/rs/zerolog"
)

// Config collects the kernel's build-time tunables. Defaults mirror the
// original C assignment's #defines.
type Config struct {
	ClockInterval  int
	InitialQuantum int
	Policy         Policy
	Replacement    ReplacementPolicy
	TotalFrames    int
	PageSize       int
	PageLoadCost   int
	MaxNameBytes   int
	SecondaryDisk  int
}

// Option configures a Kernel at construction, the way arctir-proctor's CLI
// assembles its proctorOpts from flags.
type Option func(*Config)

func WithPolicy(p Policy) Option                 { return func(c *Config) { c.Policy = p } }
func WithReplacement(r ReplacementPolicy) Option  { return func(c *Config) { c.Replacement = r } }
func WithInitialQuantum(q int) Option             { return func(c *Config) { c.InitialQuantum = q } }
func WithClockInterval(t int) Option              { return func(c *Config) { c.ClockInterval = t } }
func WithTotalFrames(n int) Option                { return func(c *Config) { c.TotalFrames = n } }
func WithPageSize(n int) Option                   { return func(c *Config) { c.PageSize = n } }

func defaultConfig() Config {
	return Config{
		ClockInterval:  50,
		InitialQuantum: 10,
		Policy:         Simple,
		Replacement:    FIFO,
		TotalFrames:    100,
		PageSize:       8,
		PageLoadCost:   2,
		MaxNameBytes:   100,
		SecondaryDisk:  10000,
	}
}

// Devices groups the external collaborators the kernel is wired against.
type Devices struct {
	CPU       device.CPU
	Memory    device.Memory
	MMU       device.MMU
	Disk      device.Disk
	Terminals device.TerminalBank
	Timer     device.Timer
	Console   device.Console
}

// Loader loads a named program image, returning its bytes. Loading program
// files is explicitly out of scope for this module (spec.md §1); the
// kernel depends only on this narrow seam so a real loader can be wired in
// without the kernel package knowing about file formats.
type Loader interface {
	Load(name string) ([]byte, error)
}

// Kernel is the single mutable context the whole kernel operates through —
// an explicit handle, never package-level state (spec.md §9's "no
// justification for process-wide static state").
type Kernel struct {
	config Config
	dev    Devices
	loader Loader
	log    zerolog.Logger

	table   *processTable
	readyQ  *readyQueue
	current *Descriptor
	sched   scheduler
	frames  *frameAllocator

	quantum       int
	lastClockTick int
	nextDiskAddr  int

	metrics  globalMetrics
	faultErr *KernelFault
	halted   bool
}

// KernelFault is the sentinel error type any kernel-fatal condition is
// reported as: an unknown IRQ kind, scheduler policy, or block reason, a
// register-cell I/O failure, or physical memory exhausted with no frame
// left to evict. Tick never panics on these; fault() latches one on the
// Kernel so the simulator boundary sees a plain return code, never an
// unwind, matching SPEC_FULL.md's ambient-errors section.
type KernelFault struct {
	Message string
}

func (f *KernelFault) Error() string { return "kernel fault: " + f.Message }

// New constructs a Kernel wired to dev and loader, applying opts over the
// defaults.
func New(dev Devices, loader Loader, log zerolog.Logger, opts ...Option) *Kernel {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	k := &Kernel{
		config: cfg,
		dev:    dev,
		loader: loader,
		log:    log,
		table:  newProcessTable(),
		readyQ: newReadyQueue(),
		frames: newFrameAllocator(cfg.TotalFrames, cfg.Replacement),
		quantum: cfg.InitialQuantum,
	}
	k.sched = newScheduler(cfg.Policy)
	dev.CPU.InstallHandler(k.Tick)
	return k
}

// fault latches a kernel-fatal error: the next dispatch will return 1 and
// the simulator is expected to stop calling in. Only the first fault is
// kept — subsequent calls are logged but do not overwrite it, so Err()
// always reports the original cause.
func (k *Kernel) fault(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	k.log.Error().Msg("kernel fault: " + msg)
	if k.dev.Console != nil {
		k.dev.Console.Printf("PANIC: %s", msg)
	}
	if k.faultErr == nil {
		k.faultErr = &KernelFault{Message: msg}
	}
}

// Tick is the kernel's single entry point, installed on the CPU. It
// performs, in order: accounting, state salvage, IRQ-specific handling,
// the pending-work sweep, scheduling, the termination check, and dispatch
// — spec.md §2's seven steps. It returns 0 if a process was dispatched, or
// 1 if the simulator should idle (no runnable process, or a kernel-fatal
// fault was just latched).
func (k *Kernel) Tick(kind device.IRQ) int {
	if k.halted {
		return 1
	}

	k.accountIRQ(kind)
	k.salvageState()
	k.handleIRQ(kind)
	k.sweepPending()
	if k.faultErr == nil {
		k.sched.pick(k)
	}

	if k.table.allDead() {
		k.finalize()
		k.log.Info().Msg("kernel: all processes dead, halting")
	}

	if k.faultErr != nil {
		k.log.Error().Msg("kernel: internal error detected, halting")
		k.halted = true
		return 1
	}
	return k.dispatch()
}

// accountIRQ bumps the per-kind interrupt counter and advances global and
// per-process time counters based on the elapsed simulator clock.
func (k *Kernel) accountIRQ(kind device.IRQ) {
	if int(kind) < 0 || int(kind) >= device.NumIRQKinds {
		k.fault("unknown IRQ kind %d", kind)
		return
	}
	k.metrics.interruptions[kind]++

	now, err := k.dev.Timer.Instructions()
	if err != nil {
		k.fault("reading clock: %v", err)
		return
	}
	prev := k.lastClockTick
	k.lastClockTick = now
	if prev == 0 {
		return
	}
	k.accountTick(now - prev)
}

// salvageState reads the outgoing CPU registers from the fixed memory
// cells into the descriptor of the process that was running.
func (k *Kernel) salvageState() {
	if k.current == nil {
		return
	}
	pc, err1 := k.dev.Memory.Read(device.CellPC)
	a, err2 := k.dev.Memory.Read(device.CellA)
	x, err3 := k.dev.Memory.Read(device.CellX)
	comp, err4 := k.dev.Memory.Read(device.CellErrorComplement)
	errc, err5 := k.dev.Memory.Read(device.CellErrorCode)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		k.fault("salvaging CPU state: %v", firstErr(err1, err2, err3, err4, err5))
		return
	}
	d := k.current
	d.PC, d.A, d.X = pc, a, x
	d.ErrorComplement = comp
	d.ErrorCode = device.ErrCode(errc)
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// dispatch writes the chosen process's registers back to the fixed cells
// and points the MMU at its page table. Returns 0 if a process was
// dispatched, 1 otherwise.
func (k *Kernel) dispatch() int {
	if k.current == nil {
		return 1
	}
	d := k.current
	if err := k.dev.Memory.Write(device.CellA, d.A); err != nil {
		k.fault("dispatch: writing A: %v", err)
		return 1
	}
	if err := k.dev.Memory.Write(device.CellX, d.X); err != nil {
		k.fault("dispatch: writing X: %v", err)
		return 1
	}
	if err := k.dev.Memory.Write(device.CellPC, d.PC); err != nil {
		k.fault("dispatch: writing PC: %v", err)
		return 1
	}
	if err := k.dev.Memory.Write(device.CellErrorComplement, d.ErrorComplement); err != nil {
		k.fault("dispatch: writing error complement: %v", err)
		return 1
	}
	if err := k.dev.Memory.Write(device.CellErrorCode, int(device.ErrOK)); err != nil {
		k.fault("dispatch: clearing error code: %v", err)
		return 1
	}
	k.dev.MMU.SetPageTable(d.PageTable)
	return 0
}

// block transitions proc (which must be the current process, at the ready
// queue's front) to BLOCKED for reason, recomputing its priority and
// removing it from the ready queue.
func (k *Kernel) block(proc *Descriptor, reason BlockReason) {
	if proc == nil {
		return
	}
	now, _ := k.dev.Timer.Instructions()
	k.log.Debug().Int("pid", proc.PID).Str("reason", reason.String()).Msg("kernel: process blocked")
	proc.transitionTo(Blocked, now)
	proc.BlockReason = reason
	k.readyQ.delete(proc)
	updatePriority(proc, k.quantum, k.config.InitialQuantum)
}

// unblock transitions proc back to READY, clearing its block reason, and
// requeues it at the tail if requeue is true. Its only caller, the pending
// sweep, always requeues; WAIT on an already-dead target returns without
// blocking and so never comes through here.
func (k *Kernel) unblock(proc *Descriptor, requeue bool) {
	now, _ := k.dev.Timer.Instructions()
	k.log.Debug().Int("pid", proc.PID).Msg("kernel: process unblocked")
	proc.transitionTo(Ready, now)
	proc.BlockReason = NoBlock
	if requeue {
		k.readyQ.enqueue(proc)
	}
}

// kill transitions proc to DEAD and removes it from the ready queue if
// present.
func (k *Kernel) kill(proc *Descriptor) {
	if proc == nil {
		return
	}
	now, _ := k.dev.Timer.Instructions()
	k.log.Debug().Int("pid", proc.PID).Msg("kernel: process killed")
	proc.transitionTo(Dead, now)
	proc.BlockReason = NoBlock
	k.readyQ.delete(proc)
	if k.current == proc {
		k.current = nil
	}
}

// CurrentPID reports the pid of the current process, or 0 if none.
func (k *Kernel) CurrentPID() int {
	if k.current == nil {
		return 0
	}
	return k.current.PID
}

// InternalFault reports whether a kernel-fatal fault has been latched.
func (k *Kernel) InternalFault() bool { return k.faultErr != nil }

// Err returns the latched KernelFault, or nil if none has occurred.
func (k *Kernel) Err() error {
	if k.faultErr == nil {
		return nil
	}
	return k.faultErr
}

// Halted reports whether the kernel has stopped dispatching for any
// reason — a kernel-fatal fault, or every process having finished and
// metrics having been finalized. A driver loop should stop calling Tick
// once this is true.
func (k *Kernel) Halted() bool { return k.halted }

// ProcessCount reports how many descriptors have ever been created.
func (k *Kernel) ProcessCount() int { return k.table.count }

// ProcessState reports the state of pid, or an error if unknown.
func (k *Kernel) ProcessState(pid int) (State, error) {
	d := k.table.byPID(pid)
	if d == nil {
		return 0, fmt.Errorf("kernel: no such process %d", pid)
	}
	return d.State, nil
}
