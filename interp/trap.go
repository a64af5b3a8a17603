package interp

import (
	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/riscv"
)

func illegalInsn(insn uint64) *riscv.Trap {
	return &riscv.Trap{Cause: riscv.CauseIllegalInsn, Tval: insn}
}

func misaligned(cause uint64, addr uint64) *riscv.Trap {
	return &riscv.Trap{Cause: cause, Tval: addr}
}

// delegatedPriv picks the privilege a trap is handled at: medeleg/mideleg
// route a cause to S-mode when both the delegation bit is set and the
// current privilege is at or below S.
func delegatedPriv(s access.State, trap riscv.Trap, curPriv uint8) uint8 {
	if curPriv == riscv.PrivM {
		return riscv.PrivM
	}
	bit := trap.ExceptionCode()
	if bit >= 64 {
		return riscv.PrivM
	}
	deleg := s.ReadMedeleg()
	if trap.IsInterrupt() {
		deleg = s.ReadMideleg()
	}
	if deleg&(uint64(1)<<bit) != 0 {
		return riscv.PrivS
	}
	return riscv.PrivM
}

// deliverTrap performs the privileged-spec trap-entry sequence: save pc,
// set cause/tval, push MIE/SIE into MPIE/SPIE, set MPP/SPP to the prior
// privilege, clear the enable bit, and vector pc to mtvec/stvec. Returns
// the new privilege and new pc.
func deliverTrap(s access.State, trap riscv.Trap, pc uint64, curPriv uint8) (newPriv uint8, newPC uint64) {
	handlingPriv := delegatedPriv(s, trap, curPriv)
	mstatus := s.ReadMstatus()

	if handlingPriv == riscv.PrivM {
		s.WriteMepc(pc)
		s.WriteMcause(trap.Cause)
		s.WriteMtval(trap.Tval)
		mie := mstatus&riscv.MstatusMIE != 0
		mstatus = setBit(mstatus, riscv.MstatusMPIE, mie)
		mstatus &^= riscv.MstatusMPP
		mstatus |= uint64(curPriv) << riscv.MstatusMPPShift
		mstatus &^= riscv.MstatusMIE
		s.WriteMstatus(mstatus)
		s.WriteIflagsPRV(riscv.PrivM)
		return riscv.PrivM, vectoredPC(s.ReadMtvec(), trap)
	}

	s.WriteSepc(pc)
	s.WriteScause(trap.Cause)
	s.WriteStval(trap.Tval)
	sie := mstatus&riscv.MstatusSIE != 0
	mstatus = setBit(mstatus, riscv.MstatusSPIE, sie)
	mstatus &^= riscv.MstatusSPP
	if curPriv == riscv.PrivS {
		mstatus |= riscv.MstatusSPP
	}
	mstatus &^= riscv.MstatusSIE
	s.WriteMstatus(mstatus)
	s.WriteIflagsPRV(riscv.PrivS)
	return riscv.PrivS, vectoredPC(s.ReadStvec(), trap)
}

func setBit(val, mask uint64, set bool) uint64 {
	if set {
		return val | mask
	}
	return val &^ mask
}

// vectoredPC applies tvec's mode bits (0 = direct, 1 = vectored) per the
// privileged spec: vectored mode only applies to interrupts, and adds
// 4*cause to the base.
func vectoredPC(tvec uint64, trap riscv.Trap) uint64 {
	base := tvec &^ 0x3
	mode := tvec & 0x3
	if mode == 1 && trap.IsInterrupt() {
		return base + 4*trap.ExceptionCode()
	}
	return base
}

// pendingInterrupt checks mip & mie against delegation and the current
// privilege's global enable, returning the highest-priority pending
// interrupt's cause, per the standard machine/supervisor priority order.
func pendingInterrupt(s access.State, priv uint8) (riscv.Trap, bool) {
	pending := s.ReadMip() & s.ReadMie()
	if pending == 0 {
		return riscv.Trap{}, false
	}
	mstatus := s.ReadMstatus()
	mideleg := s.ReadMideleg()

	mEnabled := priv != riscv.PrivM || mstatus&riscv.MstatusMIE != 0
	sEnabled := priv == riscv.PrivU || (priv == riscv.PrivS && mstatus&riscv.MstatusSIE != 0)

	order := []struct {
		bit   uint64
		cause uint64
	}{
		{riscv.MipMEIP, riscv.CauseMExternalInt},
		{riscv.MipMSIP, riscv.CauseMSoftwareInt},
		{riscv.MipMTIP, riscv.CauseMTimerInt},
		{riscv.MipSEIP, riscv.CauseSExternalInt},
		{riscv.MipSSIP, riscv.CauseSSoftwareInt},
		{riscv.MipSTIP, riscv.CauseSTimerInt},
	}
	for _, o := range order {
		if pending&o.bit == 0 {
			continue
		}
		delegatedToS := mideleg&o.bit != 0
		if delegatedToS {
			if sEnabled {
				return riscv.Trap{Cause: o.cause}, true
			}
			continue
		}
		if mEnabled {
			return riscv.Trap{Cause: o.cause}, true
		}
	}
	return riscv.Trap{}, false
}
