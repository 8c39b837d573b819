package kernel

// sweepPending scans every BLOCKED descriptor and retires the ones whose
// condition has been satisfied since the last tick: a keyboard byte
// arrived, the screen drained, the waited-on process died, or a
// page-load's delay elapsed. This is spec.md §4.6's pending-work sweep,
// run once per dispatch before the scheduler picks the next process.
func (k *Kernel) sweepPending() {
	if k.InternalFault() {
		return
	}
	now, err := k.dev.Timer.Instructions()
	if err != nil {
		k.fault("sweep: reading clock: %v", err)
		return
	}

	var ready []*Descriptor
	k.table.all(func(d *Descriptor) {
		if d.State != Blocked {
			return
		}
		switch d.BlockReason {
		case AwaitingRead:
			if k.trySweepRead(d) {
				ready = append(ready, d)
			}
		case AwaitingWrite:
			if k.trySweepWrite(d) {
				ready = append(ready, d)
			}
		case AwaitingProcess:
			if k.trySweepWait(d) {
				ready = append(ready, d)
			}
		case AwaitingPage:
			if now >= d.UnblockTime {
				ready = append(ready, d)
			}
		default:
			k.fault("sweep: unknown block reason %d for pid %d", d.BlockReason, d.PID)
		}
	})

	for _, d := range ready {
		k.unblock(d, true)
	}
}

func (k *Kernel) trySweepRead(d *Descriptor) bool {
	term := k.dev.Terminals.Terminal(d.Terminal)
	okReady, err := term.KeyboardReady()
	if err != nil {
		k.log.Warn().Int("pid", d.PID).Err(err).Msg("kernel: keyboard poll failed")
		return false
	}
	if !okReady {
		return false
	}
	v, err := term.ReadKeyboard()
	if err != nil {
		k.log.Warn().Int("pid", d.PID).Err(err).Msg("kernel: keyboard read failed")
		return false
	}
	d.A = v
	return true
}

func (k *Kernel) trySweepWrite(d *Descriptor) bool {
	term := k.dev.Terminals.Terminal(d.Terminal)
	okReady, err := term.ScreenReady()
	if err != nil {
		k.log.Warn().Int("pid", d.PID).Err(err).Msg("kernel: screen poll failed")
		return false
	}
	if !okReady {
		return false
	}
	if err := term.WriteScreen(d.X); err != nil {
		k.log.Warn().Int("pid", d.PID).Err(err).Msg("kernel: screen write failed")
		return false
	}
	d.A = 0
	return true
}

func (k *Kernel) trySweepWait(d *Descriptor) bool {
	target := k.table.byPID(d.WaitTarget)
	if target == nil || target.State == Dead {
		d.A = 0
		return true
	}
	return false
}
