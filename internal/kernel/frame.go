package kernel

// frame tracks one physical-memory slot: whether it is in use, and if so
// which process and virtual page it backs. This mirrors the original C
// assignment's `bloco_t{em_uso, processo_pid, pagina}` directly, kept as
// the allocator's internal representation. It is not exported: neither
// the debug dumps nor the tests read it.
type frame struct {
	inUse       bool
	ownerPID    int
	virtualPage int
	loadedAt    int // clock reading when this frame was last (re)populated, for FIFO
	referenced  bool
}

// ReplacementPolicy selects the physical frame to evict when none is free.
type ReplacementPolicy int

const (
	FIFO ReplacementPolicy = iota
	SecondChance
)

func (p ReplacementPolicy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case SecondChance:
		return "second_chance"
	default:
		return "unknown"
	}
}

// frameAllocator owns the fixed-size array of physical frames. Frame 0 is
// reserved at boot for the kernel image; the rest form the user pool.
type frameAllocator struct {
	frames []frame
	policy ReplacementPolicy
	// fifoCursor is the clock hand second-chance replacement sweeps from,
	// advanced round-robin style across the user pool. FIFO replacement
	// does not use it; it scans for the in-use frame with the smallest
	// loadedAt instead.
	fifoCursor int
}

func newFrameAllocator(total int, policy ReplacementPolicy) *frameAllocator {
	fa := &frameAllocator{
		frames:     make([]frame, total),
		policy:     policy,
		fifoCursor: 1,
	}
	if total > 0 {
		fa.frames[0].inUse = true
		fa.frames[0].ownerPID = 0
		fa.frames[0].virtualPage = -1
	}
	return fa
}

// findFree returns the index of a free frame, or -1 if none.
func (fa *frameAllocator) findFree() int {
	for i := 1; i < len(fa.frames); i++ {
		if !fa.frames[i].inUse {
			return i
		}
	}
	return -1
}

// allocate claims idx for (pid, vpage) at clock reading now.
func (fa *frameAllocator) allocate(idx, pid, vpage, now int) {
	fa.frames[idx] = frame{
		inUse:       true,
		ownerPID:    pid,
		virtualPage: vpage,
		loadedAt:    now,
		referenced:  true,
	}
}

// selectVictim picks a frame to evict under the configured replacement
// policy. referenced, when non-nil, reports (and the caller is expected to
// have already cleared) the MMU's reference bit for a candidate frame;
// when the MMU supplies no such bit, second-chance degrades to FIFO.
func (fa *frameAllocator) selectVictim(referenced func(frame int) (bool, bool)) int {
	switch fa.policy {
	case SecondChance:
		return fa.selectVictimSecondChance(referenced)
	default:
		return fa.selectVictimFIFO()
	}
}

func (fa *frameAllocator) selectVictimFIFO() int {
	oldest := -1
	for i := 1; i < len(fa.frames); i++ {
		if !fa.frames[i].inUse {
			continue
		}
		if oldest == -1 || fa.frames[i].loadedAt < fa.frames[oldest].loadedAt {
			oldest = i
		}
	}
	return oldest
}

// selectVictimSecondChance walks the user pool round-robin from
// fifoCursor; a frame whose reference bit is set gets it cleared and a
// second pass, otherwise it is evicted immediately.
func (fa *frameAllocator) selectVictimSecondChance(referenced func(frame int) (bool, bool)) int {
	n := len(fa.frames)
	if n <= 1 {
		return -1
	}
	for attempts := 0; attempts < 2*n; attempts++ {
		idx := fa.fifoCursor
		fa.fifoCursor++
		if fa.fifoCursor >= n {
			fa.fifoCursor = 1
		}
		if !fa.frames[idx].inUse {
			continue
		}
		if referenced != nil {
			if ref, ok := referenced(idx); ok {
				if ref {
					fa.frames[idx].referenced = false
					continue
				}
				return idx
			}
		}
		if fa.frames[idx].referenced {
			fa.frames[idx].referenced = false
			continue
		}
		return idx
	}
	return fa.selectVictimFIFO()
}

// free marks idx unused.
func (fa *frameAllocator) free(idx int) {
	fa.frames[idx] = frame{}
}
