package interp

// insn decodes the fixed fields of a 32-bit RV64 instruction word. Only
// the field extractors are shared; which fields are meaningful depends on
// the format, decided by opcode/funct3/funct7 in interp.go's dispatch.
type insn uint32

func (i insn) opcode() uint32  { return uint32(i) & 0x7f }
func (i insn) rd() int         { return int((i >> 7) & 0x1f) }
func (i insn) funct3() uint32  { return (uint32(i) >> 12) & 0x7 }
func (i insn) rs1() int        { return int((i >> 15) & 0x1f) }
func (i insn) rs2() int        { return int((i >> 20) & 0x1f) }
func (i insn) funct7() uint32  { return (uint32(i) >> 25) & 0x7f }
func (i insn) funct5() uint32  { return (uint32(i) >> 27) & 0x1f }
func (i insn) aqrl() uint32    { return (uint32(i) >> 25) & 0x3 }
func (i insn) csrAddr() uint16 { return uint16((uint32(i) >> 20) & 0xfff) }
func (i insn) shamt64() uint32 { return (uint32(i) >> 20) & 0x3f }
func (i insn) shamt32() uint32 { return (uint32(i) >> 20) & 0x1f }

// immI sign-extends the I-type immediate (bits 31:20).
func (i insn) immI() int64 {
	return int64(int32(i)) >> 20
}

// immS sign-extends the S-type immediate (store offset).
func (i insn) immS() int64 {
	hi := uint32(i) >> 25
	lo := (uint32(i) >> 7) & 0x1f
	raw := (hi << 5) | lo
	return int64(int32(raw<<20)) >> 20
}

// immB sign-extends the B-type immediate (branch offset).
func (i insn) immB() int64 {
	u := uint32(i)
	bit11 := (u >> 7) & 0x1
	bit4_1 := (u >> 8) & 0xf
	bit10_5 := (u >> 25) & 0x3f
	bit12 := (u >> 31) & 0x1
	raw := (bit12 << 12) | (bit11 << 11) | (bit10_5 << 5) | (bit4_1 << 1)
	return int64(int32(raw<<19)) >> 19
}

// immU returns the U-type immediate (already left-shifted into place).
func (i insn) immU() int64 {
	return int64(int32(uint32(i) & 0xfffff000))
}

// immJ sign-extends the J-type immediate (jal offset).
func (i insn) immJ() int64 {
	u := uint32(i)
	bit19_12 := (u >> 12) & 0xff
	bit11 := (u >> 20) & 0x1
	bit10_1 := (u >> 21) & 0x3ff
	bit20 := (u >> 31) & 0x1
	raw := (bit20 << 20) | (bit19_12 << 12) | (bit11 << 11) | (bit10_1 << 1)
	return int64(int32(raw<<11)) >> 11
}

// RV64 opcodes.
const (
	opLoad     = 0x03
	opMiscMem  = 0x0f
	opOpImm    = 0x13
	opAuipc    = 0x17
	opOpImm32  = 0x1b
	opStore    = 0x23
	opAmo      = 0x2f
	opOp       = 0x33
	opLui      = 0x37
	opOp32     = 0x3b
	opBranch   = 0x63
	opJalr     = 0x67
	opJal      = 0x6f
	opSystem   = 0x73
)
