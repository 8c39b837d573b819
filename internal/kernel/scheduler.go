package kernel

// Policy names the scheduler variant selected at kernel construction.
type Policy int

const (
	Simple Policy = iota
	RoundRobin
	Priority
)

func (p Policy) String() string {
	switch p {
	case Simple:
		return "simple"
	case RoundRobin:
		return "round_robin"
	case Priority:
		return "priority"
	default:
		return "unknown"
	}
}

// scheduler is the single capability every policy exposes: given the
// kernel's mutable state, choose (and install) the next process to run.
// A scheduler is always invoked with the ready queue already consistent
// with the table (see the state-transition helpers). Tick does not check
// for an empty table before calling pick, so each policy handles that
// case itself: simpleScheduler faults, the queue-based policies leave
// current absent.
type scheduler interface {
	pick(k *Kernel)
}

func newScheduler(p Policy) scheduler {
	switch p {
	case Simple:
		return simpleScheduler{}
	case RoundRobin:
		return roundRobinScheduler{}
	case Priority:
		return priorityScheduler{}
	default:
		return invalidScheduler{policy: p}
	}
}

// invalidScheduler is installed in place of a real policy when New is
// given a Policy value outside Simple/RoundRobin/Priority. The kernel
// doesn't exist yet at newScheduler's call site, so the guard the
// original's so_cria_processo equivalent runs at boot (so.c:763-765) is
// deferred to the first pick — the first tick after reset faults the
// kernel instead of silently running as simpleScheduler.
type invalidScheduler struct{ policy Policy }

func (s invalidScheduler) pick(k *Kernel) {
	k.fault("unknown scheduler policy %v", int(s.policy))
}

// simpleScheduler keeps the current process while it is READY, otherwise
// scans the table for the first READY descriptor. If none is READY but at
// least one is BLOCKED, the system idles (current becomes absent). If
// nothing is READY or BLOCKED, every process is DEAD or the table is
// empty — the dispatcher's termination check handles the former; the
// latter is a kernel-fatal misuse of the scheduler.
type simpleScheduler struct{}

func (simpleScheduler) pick(k *Kernel) {
	if k.current != nil && k.current.State == Ready {
		return
	}
	if next := k.table.firstInState(Ready); next != nil {
		k.current = next
		return
	}
	if k.table.firstInState(Blocked) != nil {
		k.current = nil
		return
	}
	if k.table.allDead() {
		k.current = nil
		return
	}
	k.fault("scheduler: process table is empty")
}

// roundRobinScheduler keeps the current process until its quantum is
// exhausted, then requeues it at the tail (bumping its preemption count)
// and pops the new head.
type roundRobinScheduler struct{}

func (roundRobinScheduler) pick(k *Kernel) {
	cur := k.current
	if cur != nil && cur.State == Ready && k.quantum > 0 {
		return
	}
	if cur != nil && cur.State == Ready && k.quantum == 0 {
		k.readyQ.delete(cur)
		k.readyQ.enqueue(cur)
		cur.metrics.preemptions++
	}
	if next := k.readyQ.popFront(); next != nil {
		k.current = next
		k.quantum = k.config.InitialQuantum
		return
	}
	k.current = nil
}

// priorityScheduler is round-robin's quantum-exhaustion path plus priority
// bookkeeping: on exhaustion the outgoing process's priority is
// recomputed, and the queue is sorted ascending by priority before the
// pop so the best-priority (lowest value) process is chosen next.
type priorityScheduler struct{}

func (priorityScheduler) pick(k *Kernel) {
	cur := k.current
	if cur != nil && cur.State == Ready && k.quantum > 0 {
		return
	}
	if cur != nil && cur.State == Ready && k.quantum == 0 {
		updatePriority(cur, k.quantum, k.config.InitialQuantum)
		k.readyQ.delete(cur)
		k.readyQ.enqueue(cur)
		cur.metrics.preemptions++
	}
	if !k.readyQ.empty() {
		k.readyQ.sortByPriorityAscending()
		k.current = k.readyQ.popFront()
		k.quantum = k.config.InitialQuantum
		return
	}
	k.current = nil
}

// updatePriority applies the rule from spec.md §4.4: a process that used
// all of its quantum drifts toward 1 (worse); one that blocks early
// (residual > 0 at the time of the call) drifts toward 0 (better).
func updatePriority(d *Descriptor, residual, initialQuantum int) {
	if initialQuantum <= 0 {
		return
	}
	executed := initialQuantum - residual
	d.Priority = (d.Priority + float64(executed)/float64(initialQuantum)) / 2
}
