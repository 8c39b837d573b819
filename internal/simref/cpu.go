package simref

import "github.com/antunesluis/so24b/internal/device"

// CPU is a trivial interrupt source: it holds the kernel's installed
// handler and lets a driver (the CLI's run loop, or a test) fire IRQs
// into it on demand. It does not execute instructions — the program
// counter and register semantics are entirely up to whatever drives it.
type CPU struct {
	handler device.Handler
}

func NewCPU() *CPU {
	return &CPU{}
}

func (c *CPU) InstallHandler(h device.Handler) {
	c.handler = h
}

// Trigger delivers kind to the installed handler, returning its result (0
// dispatched, 1 idle/halt). Triggering before a handler is installed is a
// caller error and panics, the same way calling into an uninitialized
// kernel would be.
func (c *CPU) Trigger(kind device.IRQ) int {
	if c.handler == nil {
		panic("simref: CPU.Trigger called with no handler installed")
	}
	return c.handler(kind)
}
