// Package device implements the memory-mapped peripherals alongside RAM
// and ROM: the HTIF host-target interface, the CLINT timer, and the DHD
// dehash oracle. Each is driven through access.State
// rather than touching host I/O directly from interp, so a device side
// effect that changes architectural state - an HTIF acknowledgement, a
// CLINT interrupt-pending bit - is an ordinary register write on the
// State the device is handed. machine.Machine ticks HTIF and CLINT on its
// Direct state, so in a logged Machine.Step those effects are applied
// after the logged cycle and are not part of its access log.
package device

import (
	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/pma"
)

// HTIF device IDs and console command codes: tohost is
// (device<<56)|(cmd<<48)|payload, device 0 halts, device 1 is the
// console (0=getchar, 1=putchar), device 2 is yield.
const (
	HTIFDeviceHalt    = 0
	HTIFDeviceConsole = 1
	HTIFDeviceYield   = 2

	HTIFConsoleGetChar = 0
	HTIFConsolePutChar = 1
)

// HTIF owns no state of its own beyond the console byte queue and
// halt/yield latches, deferring the actual tohost/fromhost register
// values to whatever access.State is
// bound for the current step.
type HTIF struct {
	Interactive bool // gates console polling; off by default for determinism

	halted   bool
	exitCode uint64
	yielded  bool
	yieldCmd uint64

	pending []byte // bytes queued for the next console GETCHAR
	out     []byte // bytes the guest has PUTCHAR'd, drained by the host session
}

// NewHTIF builds an HTIF device. interactive controls whether Feed'd
// console bytes are ever visible to the guest: when false, GetChar always
// reports "no character" - determinism wins unless the caller opts in.
func NewHTIF(interactive bool) *HTIF {
	return &HTIF{Interactive: interactive}
}

// Feed queues host-provided bytes for the next console GETCHAR polls.
// No-op when the device is not interactive.
func (h *HTIF) Feed(data []byte) {
	if !h.Interactive {
		return
	}
	h.pending = append(h.pending, data...)
}

// DrainOutput returns and clears everything the guest has written via
// console PUTCHAR.
func (h *HTIF) DrainOutput() []byte {
	out := h.out
	h.out = nil
	return out
}

// Halted reports whether the guest issued HTIF halt, and with what code.
func (h *HTIF) Halted() (bool, uint64) { return h.halted, h.exitCode }

// Yielded reports (and clears) a pending yield request: a one-shot
// signal machine.Run surfaces to its caller rather than looping on
// internally.
func (h *HTIF) Yielded() (bool, uint64) {
	y, cmd := h.yielded, h.yieldCmd
	h.yielded = false
	return y, cmd
}

func (h *HTIF) getChar() uint64 {
	if !h.Interactive || len(h.pending) == 0 {
		return 0
	}
	c := h.pending[0]
	h.pending = h.pending[1:]
	return uint64(c) + 1
}

// onTohostWrite decodes a write to the tohost register and performs the
// requested device's side effect, mirroring htif_write_tohost.
func (h *HTIF) onTohostWrite(s access.State, tohost uint64) {
	s.WriteHtifTohost(tohost)
	deviceID := tohost >> 56
	cmd := (tohost >> 48) & 0xff
	payload := tohost & (^uint64(0) >> 16)

	switch deviceID {
	case HTIFDeviceHalt:
		if cmd == 0 && payload&1 != 0 {
			h.halted = true
			h.exitCode = payload >> 1
		}
	case HTIFDeviceConsole:
		switch cmd {
		case HTIFConsolePutChar:
			h.out = append(h.out, byte(payload&0xff))
			s.WriteHtifFromhost((uint64(1) << 56) | (uint64(1) << 48))
		case HTIFConsoleGetChar:
			s.WriteHtifFromhost((uint64(HTIFDeviceConsole) << 56) | (uint64(HTIFConsoleGetChar) << 48) | h.getChar())
		}
	case HTIFDeviceYield:
		h.yielded = true
		h.yieldCmd = cmd
		s.WriteHtifFromhost((uint64(HTIFDeviceYield) << 56) | (cmd << 48))
	}
}

// Step drives one device tick: if the current access.State's tohost
// register was written since the last step, process it. machine.Machine
// calls this once per cycle after commit, always on its Direct state: in
// Run that is the State the instruction executed against; in Step it is
// the live state after the logged cycle, so the side effect is not part
// of that cycle's access log.
func (h *HTIF) Step(s access.State, lastTohost uint64) uint64 {
	tohost := s.ReadHtifTohost()
	if tohost != lastTohost {
		h.onTohostWrite(s, tohost)
	}
	return tohost
}

// NewDriver wraps h as a pma.Driver for a conventional HTIF MMIO region
// (tohost at offset 0, fromhost at offset 8), for configurations that
// want the guest to reach HTIF through ordinary loads/stores into a
// dedicated physical range rather than only through the shadow CSRs.
// The driver still routes every access through the bound access.State so
// both paths stay logged the same way.
func (h *HTIF) NewDriver(bind func() access.State) *pma.Driver {
	return &pma.Driver{
		Name: "htif",
		Read: func(offset uint64, size int) (uint64, bool) {
			s := bind()
			switch offset {
			case 0:
				return s.ReadHtifTohost(), true
			case 8:
				return s.ReadHtifFromhost(), true
			default:
				return 0, false
			}
		},
		Write: func(offset uint64, size int, val uint64) bool {
			s := bind()
			switch offset {
			case 0:
				h.onTohostWrite(s, val)
				return true
			case 8:
				s.WriteHtifFromhost(val)
				return true
			default:
				return false
			}
		},
	}
}
