package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/pma"
	"github.com/go-rvm/rvm/riscv"
)

func newMachine(t *testing.T) *access.Direct {
	t.Helper()
	shadow, err := access.NewShadowEntry(0)
	require.NoError(t, err)
	ram, err := pma.NewMemoryEntry(0x1000, 4*pma.PageSize, pma.Flags{R: true, W: true, X: true, DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl, err := pma.NewTable([]*pma.Entry{shadow, ram})
	require.NoError(t, err)
	s := access.NewDirect(shadow, tbl)
	s.WriteIflagsPRV(riscv.PrivM)
	s.WriteIlrsc(ilrscInvalid)
	return s
}

func store32(s access.State, addr uint64, word uint32) {
	s.WriteMemory(addr, 2, uint64(word))
}

func TestAddiAndRegisterZero(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	// addi x1, x0, 5
	store32(s, 0x1000, encodeI(0x13, 1, 0, 0, 5))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(5), s.ReadX(1))
	require.Equal(t, uint64(0x1004), s.ReadPC())
	require.Equal(t, uint64(1), s.ReadMinstret())
}

func TestBranchTakenAndNotTaken(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteX(1, 1)
	s.WriteX(2, 1)
	// beq x1, x2, +8
	store32(s, 0x1000, encodeB(0x63, 0, 1, 2, 8))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0x1008), s.ReadPC())

	// bne x1, x2, +8 -- not taken, falls through
	store32(s, 0x1008, encodeB(0x63, 1, 1, 2, 8))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0x100c), s.ReadPC())
}

func TestLoadStoreRoundTrip(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteX(1, 0x2000)
	s.WriteX(2, 0xdeadbeef)
	// sw x2, 0(x1)
	store32(s, 0x1000, encodeS(0x23, 2, 1, 2, 0))
	require.NoError(t, Step(s))
	// lw x3, 0(x1)
	store32(s, 0x1004, encodeI(0x03, 2, 1, 3, 0))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0xffffffffdeadbeef), s.ReadX(3))
}

func TestIllegalInstructionTraps(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteMtvec(0x9000)
	store32(s, 0x1000, 0) // opcode 0 is not a valid RV64 opcode
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0x9000), s.ReadPC())
	require.Equal(t, riscv.CauseIllegalInsn, s.ReadMcause())
	require.Equal(t, uint64(0), s.ReadMinstret(), "a trapped cycle doesn't retire an instruction")
}

func TestLrScSuccessAndFailure(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteX(1, 0x2000)
	s.WriteX(2, 0x42)
	// lr.d x3, (x1)
	store32(s, 0x1000, encodeAmo(0x02, 0, 1, 0, 3, 3))
	require.NoError(t, Step(s))
	// sc.d x4, x2, (x1) -- should succeed, x4 == 0
	store32(s, 0x1004, encodeAmo(0x03, 0, 1, 2, 4, 3))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0), s.ReadX(4))
	require.Equal(t, uint64(0x42), s.ReadMemory(0x2000, 3))

	// A second sc.d without a fresh lr.d must fail (x5 == 1).
	store32(s, 0x1008, encodeAmo(0x03, 0, 1, 2, 5, 3))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(1), s.ReadX(5))
}

func TestCsrrwRoundTrip(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteX(1, 0x1234)
	// csrrw x2, mscratch, x1
	store32(s, 0x1000, encodeCsr(1, 1, 2, csrMscratch))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0x1234), s.ReadMscratch())
	require.Equal(t, uint64(0), s.ReadX(2))
}

func TestEcallFromMachineModeTraps(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteMtvec(0x9000)
	// ecall
	store32(s, 0x1000, encodeI(0x73, 0, 0, 0, 0))
	require.NoError(t, Step(s))
	require.Equal(t, riscv.CauseEcallFromM, s.ReadMcause())
	require.Equal(t, uint64(0x9000), s.ReadPC())
	require.Equal(t, uint64(0x1000), s.ReadMepc())
}

func TestMretReturnsToSavedPrivAndPC(t *testing.T) {
	s := newMachine(t)
	s.WriteMepc(0x3000)
	s.WriteMstatus(uint64(riscv.PrivS) << riscv.MstatusMPPShift)
	s.WritePC(0x1000)
	// mret
	store32(s, 0x1000, encodeI(0x73, 0, 0, 0, 0x302))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(0x3000), s.ReadPC())
	require.Equal(t, riscv.PrivS, s.ReadIflagsPRV())
}

func TestMulDivRv64(t *testing.T) {
	s := newMachine(t)
	s.WritePC(0x1000)
	s.WriteX(1, 6)
	s.WriteX(2, 7)
	// mul x3, x1, x2
	store32(s, 0x1000, encodeR(0x33, 0, 1, 2, 3, 0x01))
	require.NoError(t, Step(s))
	require.Equal(t, uint64(42), s.ReadX(3))
}

// --- tiny instruction encoders, local to this test file ---

func encodeI(opcode uint32, funct3 uint32, rs1, rd int, imm int32) uint32 {
	return (uint32(imm)<<20&0xfff00000) | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeR(opcode, funct3 uint32, rs1, rs2, rd int, funct7 uint32) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeS(opcode uint32, rs2, rs1 int, funct3 uint32, imm int32) uint32 {
	u := uint32(imm)
	hi := (u >> 5) & 0x7f
	lo := u & 0x1f
	return hi<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | lo<<7 | opcode
}

func encodeB(opcode, funct3 uint32, rs1, rs2 int, imm int32) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bit10_5 := (u >> 5) & 0x3f
	bit4_1 := (u >> 1) & 0xf
	return bit12<<31 | bit10_5<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | bit4_1<<8 | bit11<<7 | opcode
}

func encodeAmo(funct5 uint32, aqrl uint32, rs1 int, rs2 int, rd int, funct3 uint32) uint32 {
	return funct5<<27 | aqrl<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | 0x2f
}

func encodeCsr(funct3 uint32, rs1 int, rd int, csr uint16) uint32 {
	return uint32(csr)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | 0x73
}
