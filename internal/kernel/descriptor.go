package kernel

import "github.com/antunesluis/so24b/internal/device"

// State is a process's lifecycle state.
type State int

const (
	Ready State = iota
	Blocked
	Dead
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// BlockReason is the specific condition a Blocked descriptor is waiting on.
// It dictates which predicate the pending sweep evaluates for that
// descriptor.
type BlockReason int

const (
	NoBlock BlockReason = iota
	AwaitingRead
	AwaitingWrite
	AwaitingProcess
	AwaitingPage
)

func (r BlockReason) String() string {
	switch r {
	case NoBlock:
		return "none"
	case AwaitingRead:
		return "awaiting_read"
	case AwaitingWrite:
		return "awaiting_write"
	case AwaitingProcess:
		return "awaiting_process"
	case AwaitingPage:
		return "awaiting_page"
	default:
		return "unknown"
	}
}

// terminalsPerProcess is the number of per-process terminal groups; a
// process's terminal index is (pid mod terminalsPerProcess).
const terminalsPerProcess = 4

// initialPriority is the starting priority assigned to every new process.
const initialPriority = 0.5

// processMetrics accumulates the per-process counters spec.md §3 and §6
// require: turnaround time, preemption count, per-state entry counts and
// cumulative time in each state, and mean response time.
type processMetrics struct {
	stateTime    [3]int // indexed by State
	stateEntries [3]int
	preemptions  int

	readyEntries    int
	readyTimeAtLast int // clock reading when the process most recently entered READY
	totalReadyTime  int // sum across all completed READY intervals

	createdAt int
	diedAt    int
	died      bool
}

func (m *processMetrics) turnaround() int {
	if !m.died {
		return 0
	}
	return m.diedAt - m.createdAt
}

func (m *processMetrics) meanResponseTime() float64 {
	if m.readyEntries == 0 {
		return 0
	}
	return float64(m.totalReadyTime) / float64(m.readyEntries)
}

// Descriptor is the single per-process record owned by the process table.
// Other subsystems (the ready queue, the pending sweep, the scheduler)
// reference it by pointer, but the table is the sole owner and the only
// thing that ever frees one (by never freeing it — dead descriptors live
// until the kernel halts, so a WAIT on them can resolve and their metrics
// survive to the final report).
type Descriptor struct {
	PID int

	PC, A, X        int
	ErrorComplement int
	ErrorCode       device.ErrCode

	Terminal int

	State       State
	BlockReason BlockReason
	// WaitTarget is the pid a process blocked AwaitingProcess is waiting
	// on; reused as scratch for WAIT's X argument.
	WaitTarget int
	// UnblockTime is the absolute clock value at which an AwaitingPage
	// block may retire.
	UnblockTime int

	Priority float64

	PageTable     *device.PageTable
	SecondaryBase int

	metrics processMetrics
}

func newDescriptor(pid int, now int) *Descriptor {
	d := &Descriptor{
		PID:       pid,
		Terminal:  (pid % terminalsPerProcess) * terminalsPerProcess,
		State:     Ready,
		Priority:  initialPriority,
		PageTable: device.NewPageTable(),
	}
	d.metrics.createdAt = now
	d.metrics.stateEntries[Ready] = 1
	d.metrics.readyEntries = 1
	d.metrics.readyTimeAtLast = now
	return d
}

// tickMetrics advances this descriptor's cumulative state-time counter by
// elapsed ticks, attributing them to its current state.
func (d *Descriptor) tickMetrics(elapsed int) {
	d.metrics.stateTime[d.State] += elapsed
}

// transitionTo moves the descriptor to state s at clock reading now,
// closing out any READY interval and bumping entry counters. It does not
// touch the ready queue or block reason — callers own that.
func (d *Descriptor) transitionTo(s State, now int) {
	if d.State == Ready && s != Ready {
		d.metrics.totalReadyTime += now - d.metrics.readyTimeAtLast
	}
	d.State = s
	d.metrics.stateEntries[s]++
	if s == Ready {
		d.metrics.readyTimeAtLast = now
		d.metrics.readyEntries++
	}
	if s == Dead {
		d.metrics.diedAt = now
		d.metrics.died = true
	}
}
