// Package simref provides a minimal in-process reference harness
// implementing the internal/device interfaces: flat memory, a trivial
// MMU, an in-memory disk, terminal groups backed by in-memory queues, and a
// software clock. It exists so the kernel package, its tests, and the CLI
// have something to run against — it is explicitly NOT a faithful
// hardware simulator (cycle timing, instruction decoding and the
// trampoline are all out of scope for this module).
package simref

import (
	"fmt"
	"sync"

	"github.com/antunesluis/so24b/internal/device"
)

// Memory is a flat, fixed-size int-addressed store.
type Memory struct {
	mu    sync.Mutex
	cells []int
}

func NewMemory(size int) *Memory {
	return &Memory{cells: make([]int, size)}
}

func (m *Memory) Read(addr int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < 0 || addr >= len(m.cells) {
		return 0, fmt.Errorf("simref: memory address %d out of range", addr)
	}
	return m.cells[addr], nil
}

func (m *Memory) Write(addr, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < 0 || addr >= len(m.cells) {
		return fmt.Errorf("simref: memory address %d out of range", addr)
	}
	m.cells[addr] = value
	return nil
}

// Disk is a flat, fixed-size secondary store, independent of Memory.
type Disk struct {
	mu    sync.Mutex
	cells []int
}

func NewDisk(size int) *Disk {
	return &Disk{cells: make([]int, size)}
}

func (d *Disk) ReadAt(offset int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset >= len(d.cells) {
		return 0, fmt.Errorf("simref: disk offset %d out of range", offset)
	}
	return d.cells[offset], nil
}

func (d *Disk) WriteAt(offset, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset >= len(d.cells) {
		return fmt.Errorf("simref: disk offset %d out of range", offset)
	}
	d.cells[offset] = value
	return nil
}

// MMU translates a process's current page table against a backing
// physical Memory, tracking a reference bit per frame for second-chance
// replacement.
type MMU struct {
	mu         sync.Mutex
	phys       *Memory
	pageSize   int
	current    *device.PageTable
	referenced map[int]bool
}

func NewMMU(phys *Memory, pageSize int) *MMU {
	return &MMU{phys: phys, pageSize: pageSize, referenced: make(map[int]bool)}
}

func (m *MMU) SetPageTable(t *device.PageTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

func (m *MMU) translate(addr int) (int, error) {
	if m.current == nil {
		return 0, fmt.Errorf("simref: no page table installed")
	}
	vpage := addr / m.pageSize
	offset := addr % m.pageSize
	entry, ok := m.current.Lookup(vpage)
	if !ok {
		return 0, fmt.Errorf("simref: virtual page %d not mapped", vpage)
	}
	m.referenced[entry.Frame] = true
	return entry.Frame*m.pageSize + offset, nil
}

func (m *MMU) Read(addr int, mode device.Mode) (int, error) {
	m.mu.Lock()
	phys, err := m.translate(addr)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return m.phys.Read(phys)
}

func (m *MMU) Write(addr, value int, mode device.Mode) error {
	m.mu.Lock()
	phys, err := m.translate(addr)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.phys.Write(phys, value)
}

func (m *MMU) Referenced(frame int) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.referenced[frame]
	m.referenced[frame] = false
	return ref, true
}

// Clock is a software instruction counter the harness advances explicitly
// (there is no real CPU here to drive it).
type Clock struct {
	mu    sync.Mutex
	count int
}

func NewClock() *Clock { return &Clock{} }

func (c *Clock) Advance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count += n
}

func (c *Clock) Program(ticks int) error  { return nil }
func (c *Clock) ClearLatch() error        { return nil }
func (c *Clock) Instructions() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, nil
}

// Console formats diagnostics with fmt and hands them to Write; a nil
// Write discards them.
type Console struct {
	Write func(string)
}

func (c Console) Printf(format string, args ...any) {
	if c.Write == nil {
		return
	}
	c.Write(fmt.Sprintf(format, args...))
}
