package device

import (
	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/riscv"
)

// MtimeDivisor is the fixed mcycle-to-mtime divisor: mtime is derived
// from mcycle rather than wall-clock time, so two runs that retire the
// same instructions see the same timer interrupts.
const MtimeDivisor = 100

// CLINT is the timer device. Tick compares the derived mtime against
// mtimecmp and latches mip.MTIP, the same update the real CLINT's
// memory-mapped mtimecmp register triggers.
type CLINT struct{}

// Tick derives mtime from s's mcycle and sets or clears mip.MTIP against
// the shadow mtimecmp register.
func (CLINT) Tick(s access.State) {
	mtime := s.ReadMcycle() / MtimeDivisor
	mtimecmp := s.ReadClintMtimecmp()
	mip := s.ReadMip()
	if mtimecmp != 0 && mtime >= mtimecmp {
		s.WriteMip(mip | riscv.MipMTIP)
	} else {
		s.WriteMip(mip &^ riscv.MipMTIP)
	}
}
