package simref

import (
	"sync"

	"github.com/antunesluis/so24b/internal/device"
)

// Terminal is a single keyboard+screen pair backed by mutex-guarded
// slices, so tests can feed keystrokes and drain screen output without
// racing the kernel's sweep.
type Terminal struct {
	mu     sync.Mutex
	keys   []int
	screen []int
}

func NewTerminal() *Terminal {
	return &Terminal{}
}

// Feed queues a keystroke as if typed by a user.
func (t *Terminal) Feed(value int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = append(t.keys, value)
}

// Screen returns everything written to the screen so far.
func (t *Terminal) Screen() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.screen))
	copy(out, t.screen)
	return out
}

func (t *Terminal) KeyboardReady() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys) > 0, nil
}

func (t *Terminal) ReadKeyboard() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.keys) == 0 {
		return 0, nil
	}
	v := t.keys[0]
	t.keys = t.keys[1:]
	return v, nil
}

// ScreenReady always reports true: this harness never models a busy
// display device, only the keyboard side models latency (via Feed).
func (t *Terminal) ScreenReady() (bool, error) {
	return true, nil
}

func (t *Terminal) WriteScreen(value int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen = append(t.screen, value)
	return nil
}

// TerminalBank owns four terminal groups, addressed by the base offset
// the kernel assigns each process ((pid mod 4) * 4).
type TerminalBank struct {
	groups [4]*Terminal
}

func NewTerminalBank() *TerminalBank {
	tb := &TerminalBank{}
	for i := range tb.groups {
		tb.groups[i] = NewTerminal()
	}
	return tb
}

func (tb *TerminalBank) Terminal(base int) device.Terminal {
	idx := (base / 4) % len(tb.groups)
	return tb.groups[idx]
}

// Group exposes the concrete terminal at base, for tests that need to
// Feed keystrokes or inspect Screen output directly.
func (tb *TerminalBank) Group(base int) *Terminal {
	idx := (base / 4) % len(tb.groups)
	return tb.groups[idx]
}
