package kernel

import "fmt"

// spawn loads name's image from the program loader, copies it onto this
// process's private region of secondary storage, and creates and enqueues
// a fresh descriptor for it. It never faults the kernel on a loader
// error — the caller decides whether that is process- or kernel-fatal.
func (k *Kernel) spawn(name string, requestedBy int) (*Descriptor, error) {
	image, err := k.loader.Load(name)
	if err != nil {
		return nil, fmt.Errorf("loading program %q: %w", name, err)
	}

	base := k.nextDiskAddr
	if k.config.SecondaryDisk > 0 && base+len(image) > k.config.SecondaryDisk {
		return nil, fmt.Errorf("secondary storage exhausted: program %q needs %d bytes past offset %d, capacity is %d", name, len(image), base, k.config.SecondaryDisk)
	}

	now, _ := k.dev.Timer.Instructions()
	pid := k.table.allocatePID()
	d := newDescriptor(pid, now)
	d.SecondaryBase = base
	for i, b := range image {
		if err := k.dev.Disk.WriteAt(base+i, int(b)); err != nil {
			return nil, fmt.Errorf("writing program image to disk: %w", err)
		}
	}
	k.nextDiskAddr = base + roundUpToPage(len(image), k.config.PageSize)

	k.table.add(d)
	k.readyQ.enqueue(d)
	k.log.Info().Int("pid", pid).Str("program", name).Int("requested_by", requestedBy).Msg("kernel: process spawned")
	return d, nil
}

func roundUpToPage(n, pageSize int) int {
	if pageSize <= 0 {
		return n
	}
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

// handlePageFault services a PAGE_ABSENT error for the faulting virtual
// address addr (the CPU's error-complement register): it finds or makes
// room for a physical frame, transfers in the page (page_size bytes
// starting at secondary_base + (addr - addr mod page_size), per spec.md
// §4.8) from d's secondary-storage image, and blocks d for the configured
// page-load cost before the sweep retires the block. This module's
// harness performs the transfer eagerly and simply delays the unblock,
// rather than modeling an asynchronous DMA completion IRQ — a
// simplification spec.md's Non-goals license since faithfully simulating
// the disk controller is explicitly out of scope.
func (k *Kernel) handlePageFault(d *Descriptor, addr int) {
	if addr < 0 || k.config.PageSize <= 0 {
		k.log.Warn().Int("pid", d.PID).Int("addr", addr).Msg("kernel: invalid faulting address in page fault")
		k.kill(d)
		return
	}
	vpage := addr / k.config.PageSize

	frameIdx := k.frames.findFree()
	if frameIdx == -1 {
		victim := k.frames.selectVictim(k.mmuReferenced)
		if victim == -1 {
			k.fault("no physical frame available for replacement")
			return
		}
		k.evict(victim)
		frameIdx = victim
	}

	if err := k.loadPage(d, vpage, frameIdx); err != nil {
		k.log.Warn().Int("pid", d.PID).Err(err).Msg("kernel: failed to load page, killing process")
		k.frames.free(frameIdx)
		k.kill(d)
		return
	}

	now, _ := k.dev.Timer.Instructions()
	d.UnblockTime = now + k.config.PageLoadCost
	k.block(d, AwaitingPage)
}

// mmuReferenced adapts the device MMU's Referenced call to the allocator's
// victim-selection callback shape.
func (k *Kernel) mmuReferenced(frame int) (bool, bool) {
	if k.dev.MMU == nil {
		return false, false
	}
	return k.dev.MMU.Referenced(frame)
}

// evict invalidates the mapping the current occupant of frameIdx holds and
// frees the frame so a new page can be loaded into it.
func (k *Kernel) evict(frameIdx int) {
	owner := k.frames.frames[frameIdx].ownerPID
	vpage := k.frames.frames[frameIdx].virtualPage
	if d := k.table.byPID(owner); d != nil {
		d.PageTable.Invalidate(vpage)
	}
	k.frames.free(frameIdx)
}

// loadPage transfers one page's worth of bytes from d's image on secondary
// storage into physical frame frameIdx, and installs the mapping.
func (k *Kernel) loadPage(d *Descriptor, vpage, frameIdx int) error {
	now, _ := k.dev.Timer.Instructions()
	diskOffset := d.SecondaryBase + vpage*k.config.PageSize
	physBase := frameIdx * k.config.PageSize
	for i := 0; i < k.config.PageSize; i++ {
		v, err := k.dev.Disk.ReadAt(diskOffset + i)
		if err != nil {
			return fmt.Errorf("reading page from disk: %w", err)
		}
		if err := k.dev.Memory.Write(physBase+i, v); err != nil {
			return fmt.Errorf("writing page to physical memory: %w", err)
		}
	}
	k.frames.allocate(frameIdx, d.PID, vpage, now)
	d.PageTable.Map(vpage, frameIdx)
	return nil
}
