package main

import (
	"fmt"

	"github.com/antunesluis/so24b/internal/device"
	"github.com/antunesluis/so24b/internal/kernel"
	"github.com/antunesluis/so24b/internal/simref"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// demoInit is the fixed "init" program image the CLI registers with the
// loader: 64 zero bytes, eight pages at pageSize. Spawn copies it to
// disk, but driveClock raises only reset and clock IRQs, so a run never
// page-faults and the image is never paged in.
var demoInit = make([]byte, 64)

const pageSize = 8

func parsePolicy(s string) (kernel.Policy, error) {
	switch s {
	case "simple":
		return kernel.Simple, nil
	case "round_robin":
		return kernel.RoundRobin, nil
	case "priority":
		return kernel.Priority, nil
	default:
		return 0, fmt.Errorf("unknown scheduler policy %q", s)
	}
}

func parseReplacement(s string) (kernel.ReplacementPolicy, error) {
	switch s {
	case "fifo":
		return kernel.FIFO, nil
	case "second_chance":
		return kernel.SecondChance, nil
	default:
		return 0, fmt.Errorf("unknown replacement policy %q", s)
	}
}

// boot assembles a simref harness and a kernel wired against it, per the
// flags on fs.
func boot(fs *pflag.FlagSet, log zerolog.Logger) (*kernel.Kernel, *simref.CPU, *simref.Clock, error) {
	policyStr, _ := fs.GetString(flagPolicy)
	replStr, _ := fs.GetString(flagReplacement)
	quantum, _ := fs.GetInt(flagQuantum)

	policy, err := parsePolicy(policyStr)
	if err != nil {
		return nil, nil, nil, err
	}
	repl, err := parseReplacement(replStr)
	if err != nil {
		return nil, nil, nil, err
	}

	cpu := simref.NewCPU()
	mem := simref.NewMemory(4096)
	mmu := simref.NewMMU(mem, pageSize)
	disk := simref.NewDisk(65536)
	terms := simref.NewTerminalBank()
	clock := simref.NewClock()
	console := simref.Console{Write: func(s string) { log.Info().Msg(s) }}

	loader := simref.NewLoader()
	loader.Register("init", demoInit)

	devices := kernel.Devices{
		CPU:       cpu,
		Memory:    mem,
		MMU:       mmu,
		Disk:      disk,
		Terminals: terms,
		Timer:     clock,
		Console:   console,
	}

	k := kernel.New(devices, loader, log,
		kernel.WithPolicy(policy),
		kernel.WithReplacement(repl),
		kernel.WithInitialQuantum(quantum),
		kernel.WithPageSize(pageSize),
	)
	return k, cpu, clock, nil
}

// driveClock triggers reset, then ticks the clock IRQ up to maxTicks
// times (advancing the software clock one instruction per tick), stopping
// early once the kernel halts — whether from a kernel-fatal fault or from
// every process finishing and metrics being finalized. Without this
// check, a normal-termination run would keep calling Tick for the rest of
// maxTicks with nothing left to do.
func driveClock(k *kernel.Kernel, cpu *simref.CPU, clock *simref.Clock, maxTicks int) {
	cpu.Trigger(device.IRQReset)
	if k.Halted() {
		return
	}
	for i := 0; i < maxTicks; i++ {
		clock.Advance(1)
		cpu.Trigger(device.IRQClock)
		if k.Halted() {
			return
		}
	}
}
