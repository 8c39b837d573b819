package kernel

import "github.com/davecgh/go-spew/spew"

// DumpProcessTable renders every descriptor's full state via go-spew, the
// way the original assignment's debug_tabela_processos existed purely to
// eyeball process-table state while developing the scheduler and paging
// code. Not used on any normal code path; callers reach for it from a
// debugger session or an ad-hoc log line.
func (k *Kernel) DumpProcessTable() string {
	var all []*Descriptor
	k.table.all(func(d *Descriptor) { all = append(all, d) })
	return spew.Sdump(all)
}

// DumpReadyQueue renders the ready queue's current membership in order,
// the equivalent of debug_fila_processos.
func (k *Kernel) DumpReadyQueue() string {
	var all []*Descriptor
	n := k.readyQ.len()
	for i := 0; i < n; i++ {
		d := k.readyQ.popFront()
		all = append(all, d)
	}
	for _, d := range all {
		k.readyQ.enqueue(d)
	}
	return spew.Sdump(all)
}
