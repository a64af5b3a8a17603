// Package interp is the RV64IMA instruction interpreter. Step executes
// exactly one cycle against an access.State: check halt, check pending
// interrupts, fetch, decode, execute, then advance the counters. It
// never returns a Go error for an in-guest fault - faults become
// RISC-V traps delivered through deliverTrap and execution continues;
// there is no host-level exception path for in-guest faults.
package interp

import (
	mbits "math/bits"

	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/bits"
	"github.com/go-rvm/rvm/mmu"
	"github.com/go-rvm/rvm/riscv"
)

const ilrscInvalid = ^uint64(0)

// Step advances the machine by exactly one cycle.
func Step(s access.State) error {
	priv := s.ReadIflagsPRV()

	if s.ReadIflagsH() {
		return nil
	}

	if s.ReadIflagsI() {
		if s.ReadMip()&s.ReadMie() != 0 {
			s.ResetIflagsI()
		} else {
			s.WriteMcycle(s.ReadMcycle() + 1)
			return nil
		}
	}

	pc := s.ReadPC()

	if trap, ok := pendingInterrupt(s, priv); ok {
		takeTrap(s, trap, pc, priv)
		s.WriteMcycle(s.ReadMcycle() + 1)
		return nil
	}

	if !bits.Aligned(pc, 4) {
		takeTrap(s, *misaligned(riscv.CauseInsnAddrMisaligned, pc), pc, priv)
		s.WriteMcycle(s.ReadMcycle() + 1)
		return nil
	}

	fetchPriv := mmu.EffectivePriv(priv, s.ReadMstatus(), riscv.AccessFetch)
	paddr, err := mmu.Translate(s, pc, riscv.AccessFetch, fetchPriv)
	if err != nil {
		takeTrap(s, trapFromErr(err), pc, priv)
		s.WriteMcycle(s.ReadMcycle() + 1)
		return nil
	}

	i := insn(uint32(s.ReadMemory(paddr, 2)))
	nextPC, trap := execute(s, i, pc, priv)
	if trap != nil {
		takeTrap(s, *trap, pc, priv)
	} else {
		s.WritePC(nextPC)
		s.WriteMinstret(s.ReadMinstret() + 1)
	}
	s.WriteMcycle(s.ReadMcycle() + 1)
	return nil
}

func takeTrap(s access.State, trap riscv.Trap, pc uint64, priv uint8) {
	_, newPC := deliverTrap(s, trap, pc, priv)
	s.WritePC(newPC)
	s.WriteIlrsc(ilrscInvalid)
}

func trapFromErr(err error) riscv.Trap {
	if t, ok := err.(riscv.Trap); ok {
		return t
	}
	return riscv.Trap{Cause: riscv.CauseLoadAccessFault}
}

// execute dispatches a decoded instruction and returns either the next pc
// (success) or a trap (failure). rd is never written on a trapping path.
func execute(s access.State, i insn, pc uint64, priv uint8) (uint64, *riscv.Trap) {
	switch i.opcode() {
	case opLui:
		s.WriteX(i.rd(), uint64(i.immU()))
		return pc + 4, nil

	case opAuipc:
		s.WriteX(i.rd(), pc+uint64(i.immU()))
		return pc + 4, nil

	case opJal:
		s.WriteX(i.rd(), pc+4)
		return pc + uint64(i.immJ()), nil

	case opJalr:
		target := (s.ReadX(i.rs1()) + uint64(i.immI())) &^ 1
		s.WriteX(i.rd(), pc+4)
		return target, nil

	case opBranch:
		return execBranch(s, i, pc)

	case opLoad:
		return execLoad(s, i, pc, priv)

	case opStore:
		return execStore(s, i, pc, priv)

	case opOpImm:
		execOpImm(s, i)
		return pc + 4, nil

	case opOpImm32:
		execOpImm32(s, i)
		return pc + 4, nil

	case opOp:
		execOp(s, i)
		return pc + 4, nil

	case opOp32:
		execOp32(s, i)
		return pc + 4, nil

	case opAmo:
		return execAmo(s, i, pc, priv)

	case opMiscMem:
		return pc + 4, nil // FENCE/FENCE.I: single-hart, nothing to order

	case opSystem:
		return execSystem(s, i, pc, priv)
	}
	return 0, illegalInsn(uint64(i))
}

func execBranch(s access.State, i insn, pc uint64) (uint64, *riscv.Trap) {
	a, b := s.ReadX(i.rs1()), s.ReadX(i.rs2())
	var taken bool
	switch i.funct3() {
	case 0: // BEQ
		taken = a == b
	case 1: // BNE
		taken = a != b
	case 4: // BLT
		taken = int64(a) < int64(b)
	case 5: // BGE
		taken = int64(a) >= int64(b)
	case 6: // BLTU
		taken = a < b
	case 7: // BGEU
		taken = a >= b
	default:
		return 0, illegalInsn(uint64(i))
	}
	if !taken {
		return pc + 4, nil
	}
	target := pc + uint64(i.immB())
	if !bits.Aligned(target, 4) {
		return 0, misaligned(riscv.CauseInsnAddrMisaligned, target)
	}
	return target, nil
}

func execLoad(s access.State, i insn, pc uint64, priv uint8) (uint64, *riscv.Trap) {
	vaddr := s.ReadX(i.rs1()) + uint64(i.immI())
	var size int
	var signed bool
	switch i.funct3() {
	case 0:
		size, signed = 1, true // LB
	case 1:
		size, signed = 2, true // LH
	case 2:
		size, signed = 4, true // LW
	case 3:
		size, signed = 8, false // LD
	case 4:
		size, signed = 1, false // LBU
	case 5:
		size, signed = 2, false // LHU
	case 6:
		size, signed = 4, false // LWU
	default:
		return 0, illegalInsn(uint64(i))
	}
	if !bits.Aligned(vaddr, size) {
		return 0, misaligned(riscv.CauseLoadAddrMisaligned, vaddr)
	}
	effPriv := mmu.EffectivePriv(priv, s.ReadMstatus(), riscv.AccessRead)
	paddr, err := mmu.Translate(s, vaddr, riscv.AccessRead, effPriv)
	if err != nil {
		t := trapFromErr(err)
		return 0, &t
	}
	raw := s.ReadMemory(paddr, bits.Log2Size(size))
	var val uint64
	if signed {
		val = bits.SignExtend(raw, uint(size*8))
	} else {
		val = bits.ZeroExtend(raw, uint(size*8))
	}
	s.WriteX(i.rd(), val)
	return pc + 4, nil
}

func execStore(s access.State, i insn, pc uint64, priv uint8) (uint64, *riscv.Trap) {
	vaddr := s.ReadX(i.rs1()) + uint64(i.immS())
	var size int
	switch i.funct3() {
	case 0:
		size = 1 // SB
	case 1:
		size = 2 // SH
	case 2:
		size = 4 // SW
	case 3:
		size = 8 // SD
	default:
		return 0, illegalInsn(uint64(i))
	}
	if !bits.Aligned(vaddr, size) {
		return 0, misaligned(riscv.CauseStoreAddrMisaligned, vaddr)
	}
	effPriv := mmu.EffectivePriv(priv, s.ReadMstatus(), riscv.AccessWrite)
	paddr, err := mmu.Translate(s, vaddr, riscv.AccessWrite, effPriv)
	if err != nil {
		t := trapFromErr(err)
		return 0, &t
	}
	s.WriteMemory(paddr, bits.Log2Size(size), s.ReadX(i.rs2()))
	invalidateReservation(s, paddr)
	return pc + 4, nil
}

func invalidateReservation(s access.State, paddr uint64) {
	if s.ReadIlrsc() == paddr&^7 {
		s.WriteIlrsc(ilrscInvalid)
	}
}

func execOpImm(s access.State, i insn) {
	a := s.ReadX(i.rs1())
	imm := uint64(i.immI())
	var r uint64
	switch i.funct3() {
	case 0:
		r = a + imm // ADDI
	case 1:
		r = a << i.shamt64() // SLLI
	case 2:
		r = b2u(int64(a) < int64(imm)) // SLTI
	case 3:
		r = b2u(a < imm) // SLTIU
	case 4:
		r = a ^ imm // XORI
	case 5:
		if i.funct7()&0x20 != 0 {
			r = uint64(int64(a) >> i.shamt64()) // SRAI
		} else {
			r = a >> i.shamt64() // SRLI
		}
	case 6:
		r = a | imm // ORI
	case 7:
		r = a & imm // ANDI
	}
	s.WriteX(i.rd(), r)
}

func execOpImm32(s access.State, i insn) {
	a := uint32(s.ReadX(i.rs1()))
	imm := uint32(i.immI())
	var r uint32
	switch i.funct3() {
	case 0:
		r = a + imm // ADDIW
	case 1:
		r = a << i.shamt32() // SLLIW
	case 5:
		if i.funct7()&0x20 != 0 {
			r = uint32(int32(a) >> i.shamt32()) // SRAIW
		} else {
			r = a >> i.shamt32() // SRLIW
		}
	}
	s.WriteX(i.rd(), bits.SignExtend32(r))
}

func b2u(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func execOp(s access.State, i insn) {
	a, b := s.ReadX(i.rs1()), s.ReadX(i.rs2())
	var r uint64
	if i.funct7() == 0x01 {
		r = execM64(i.funct3(), a, b)
	} else {
		switch i.funct3() {
		case 0:
			if i.funct7()&0x20 != 0 {
				r = a - b // SUB
			} else {
				r = a + b // ADD
			}
		case 1:
			r = a << (b & 0x3f) // SLL
		case 2:
			r = b2u(int64(a) < int64(b)) // SLT
		case 3:
			r = b2u(a < b) // SLTU
		case 4:
			r = a ^ b // XOR
		case 5:
			if i.funct7()&0x20 != 0 {
				r = uint64(int64(a) >> (b & 0x3f)) // SRA
			} else {
				r = a >> (b & 0x3f) // SRL
			}
		case 6:
			r = a | b // OR
		case 7:
			r = a & b // AND
		}
	}
	s.WriteX(i.rd(), r)
}

func execM64(funct3 uint32, a, b uint64) uint64 {
	switch funct3 {
	case 0: // MUL
		return a * b
	case 1: // MULH
		return uint64(mulHi(int64(a), int64(b)))
	case 2: // MULHSU
		return uint64(mulHiSU(int64(a), b))
	case 3: // MULHU
		return mulHiU(a, b)
	case 4: // DIV
		return divS(a, b)
	case 5: // DIVU
		if b == 0 {
			return ^uint64(0)
		}
		return a / b
	case 6: // REM
		return remS(a, b)
	case 7: // REMU
		if b == 0 {
			return a
		}
		return a % b
	}
	return 0
}

func divS(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	sa, sb := int64(a), int64(b)
	if sa == -1<<63 && sb == -1 {
		return a
	}
	return uint64(sa / sb)
}

func remS(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	sa, sb := int64(a), int64(b)
	if sa == -1<<63 && sb == -1 {
		return 0
	}
	return uint64(sa % sb)
}

// mulHi/mulHiSU/mulHiU compute the high 64 bits of a signed*signed,
// signed*unsigned, and unsigned*unsigned 64x64 multiply respectively,
// built on math/bits.Mul64's unsigned 64x64->128 primitive.
func mulHi(a, b int64) int64 {
	hi, _ := mbits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return int64(hi)
}

func mulHiSU(a int64, b uint64) int64 {
	hi, _ := mbits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return int64(hi)
}

func mulHiU(a, b uint64) uint64 {
	hi, _ := mbits.Mul64(a, b)
	return hi
}

func execOp32(s access.State, i insn) {
	a, b := uint32(s.ReadX(i.rs1())), uint32(s.ReadX(i.rs2()))
	var r uint32
	if i.funct7() == 0x01 {
		r = execM32(i.funct3(), a, b)
	} else {
		switch i.funct3() {
		case 0:
			if i.funct7()&0x20 != 0 {
				r = a - b // SUBW
			} else {
				r = a + b // ADDW
			}
		case 1:
			r = a << (b & 0x1f) // SLLW
		case 5:
			if i.funct7()&0x20 != 0 {
				r = uint32(int32(a) >> (b & 0x1f)) // SRAW
			} else {
				r = a >> (b & 0x1f) // SRLW
			}
		}
	}
	s.WriteX(i.rd(), bits.SignExtend32(r))
}

func execM32(funct3 uint32, a, b uint32) uint32 {
	switch funct3 {
	case 0: // MULW
		return a * b
	case 4: // DIVW
		if b == 0 {
			return ^uint32(0)
		}
		sa, sb := int32(a), int32(b)
		if sa == -1<<31 && sb == -1 {
			return a
		}
		return uint32(sa / sb)
	case 5: // DIVUW
		if b == 0 {
			return ^uint32(0)
		}
		return a / b
	case 6: // REMW
		if b == 0 {
			return a
		}
		sa, sb := int32(a), int32(b)
		if sa == -1<<31 && sb == -1 {
			return 0
		}
		return uint32(sa % sb)
	case 7: // REMUW
		if b == 0 {
			return a
		}
		return a % b
	}
	return 0
}

func execAmo(s access.State, i insn, pc uint64, priv uint8) (uint64, *riscv.Trap) {
	width := 8
	log2 := 3
	if i.funct3() == 2 {
		width, log2 = 4, 2
	}
	vaddr := s.ReadX(i.rs1())
	if !bits.Aligned(vaddr, width) {
		return 0, misaligned(riscv.CauseStoreAddrMisaligned, vaddr)
	}
	effPriv := mmu.EffectivePriv(priv, s.ReadMstatus(), riscv.AccessWrite)
	paddr, err := mmu.Translate(s, vaddr, riscv.AccessWrite, effPriv)
	if err != nil {
		t := trapFromErr(err)
		return 0, &t
	}

	op := i.funct5()
	switch op {
	case 0x02: // LR
		raw := s.ReadMemory(paddr, log2)
		s.WriteX(i.rd(), extend(raw, width))
		s.WriteIlrsc(paddr &^ 7)
		return pc + 4, nil
	case 0x03: // SC
		if s.ReadIlrsc() == paddr&^7 {
			s.WriteMemory(paddr, log2, s.ReadX(i.rs2()))
			s.WriteIlrsc(ilrscInvalid)
			s.WriteX(i.rd(), 0)
		} else {
			s.WriteX(i.rd(), 1)
		}
		return pc + 4, nil
	}

	old := s.ReadMemory(paddr, log2)
	rs2 := s.ReadX(i.rs2())
	var neu uint64
	switch op {
	case 0x00: // AMOADD
		neu = old + rs2
	case 0x01: // AMOSWAP
		neu = rs2
	case 0x04: // AMOXOR
		neu = old ^ rs2
	case 0x0c: // AMOAND
		neu = old & rs2
	case 0x08: // AMOOR
		neu = old | rs2
	case 0x10: // AMOMIN
		if width == 4 {
			if int32(old) < int32(rs2) {
				neu = old
			} else {
				neu = rs2
			}
		} else if int64(old) < int64(rs2) {
			neu = old
		} else {
			neu = rs2
		}
	case 0x14: // AMOMAX
		if width == 4 {
			if int32(old) > int32(rs2) {
				neu = old
			} else {
				neu = rs2
			}
		} else if int64(old) > int64(rs2) {
			neu = old
		} else {
			neu = rs2
		}
	case 0x18: // AMOMINU
		if old < rs2 {
			neu = old
		} else {
			neu = rs2
		}
	case 0x1c: // AMOMAXU
		if old > rs2 {
			neu = old
		} else {
			neu = rs2
		}
	default:
		return 0, illegalInsn(uint64(i))
	}
	s.WriteMemory(paddr, log2, neu)
	invalidateReservation(s, paddr)
	s.WriteX(i.rd(), extend(old, width))
	return pc + 4, nil
}

func extend(raw uint64, width int) uint64 {
	if width == 4 {
		return bits.SignExtend32(uint32(raw))
	}
	return raw
}

func execSystem(s access.State, i insn, pc uint64, priv uint8) (uint64, *riscv.Trap) {
	if i.funct3() == 0 {
		switch i.csrAddr() {
		case 0x000: // ECALL
			cause := riscv.CauseEcallFromM
			switch priv {
			case riscv.PrivU:
				cause = riscv.CauseEcallFromU
			case riscv.PrivS:
				cause = riscv.CauseEcallFromS
			}
			return 0, &riscv.Trap{Cause: cause}
		case 0x001: // EBREAK
			return 0, &riscv.Trap{Cause: riscv.CauseBreakpoint, Tval: pc}
		case 0x302: // MRET
			if priv != riscv.PrivM {
				return 0, illegalInsn(uint64(i))
			}
			return execMret(s), nil
		case 0x102: // SRET
			if priv == riscv.PrivU || (priv == riscv.PrivS && s.ReadMstatus()&riscv.MstatusTSR != 0) {
				return 0, illegalInsn(uint64(i))
			}
			return execSret(s), nil
		case 0x105: // WFI
			if priv == riscv.PrivS && s.ReadMstatus()&riscv.MstatusTW != 0 {
				return 0, illegalInsn(uint64(i))
			}
			s.SetIflagsI()
			return pc + 4, nil
		default:
			if i.funct7() == 0x09 { // SFENCE.VMA: no TLB to flush
				return pc + 4, nil
			}
			return 0, illegalInsn(uint64(i))
		}
	}

	var old uint64
	var trap *riscv.Trap
	addr := i.csrAddr()
	switch i.funct3() {
	case 1, 2, 3: // CSRRW, CSRRS, CSRRC
		old, trap = readCSR(s, addr, priv)
		if trap != nil {
			return 0, trap
		}
		rs1 := s.ReadX(i.rs1())
		var neu uint64
		switch i.funct3() {
		case 1:
			neu = rs1
		case 2:
			neu = old | rs1
		case 3:
			neu = old &^ rs1
		}
		if trap = writeCSR(s, addr, neu, priv); trap != nil {
			return 0, trap
		}
	case 5, 6, 7: // CSRRWI, CSRRSI, CSRRCI
		old, trap = readCSR(s, addr, priv)
		if trap != nil {
			return 0, trap
		}
		imm := uint64(i.rs1())
		var neu uint64
		switch i.funct3() {
		case 5:
			neu = imm
		case 6:
			neu = old | imm
		case 7:
			neu = old &^ imm
		}
		if trap = writeCSR(s, addr, neu, priv); trap != nil {
			return 0, trap
		}
	default:
		return 0, illegalInsn(uint64(i))
	}
	s.WriteX(i.rd(), old)
	return pc + 4, nil
}

func execMret(s access.State) uint64 {
	mstatus := s.ReadMstatus()
	mpp := uint8((mstatus & riscv.MstatusMPP) >> riscv.MstatusMPPShift)
	mpie := mstatus&riscv.MstatusMPIE != 0
	mstatus = setBit(mstatus, riscv.MstatusMIE, mpie)
	mstatus |= riscv.MstatusMPIE
	mstatus &^= riscv.MstatusMPP
	if mpp != riscv.PrivM {
		mstatus &^= riscv.MstatusMPRV
	}
	s.WriteMstatus(mstatus)
	s.WriteIflagsPRV(mpp)
	s.WriteIlrsc(ilrscInvalid)
	return s.ReadMepc()
}

func execSret(s access.State) uint64 {
	mstatus := s.ReadMstatus()
	spp := uint8(0)
	if mstatus&riscv.MstatusSPP != 0 {
		spp = riscv.PrivS
	}
	spie := mstatus&riscv.MstatusSPIE != 0
	mstatus = setBit(mstatus, riscv.MstatusSIE, spie)
	mstatus |= riscv.MstatusSPIE
	mstatus &^= riscv.MstatusSPP
	if spp != riscv.PrivM {
		mstatus &^= riscv.MstatusMPRV
	}
	s.WriteMstatus(mstatus)
	s.WriteIflagsPRV(spp)
	s.WriteIlrsc(ilrscInvalid)
	return s.ReadSepc()
}
