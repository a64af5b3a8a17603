package machine

import "encoding/binary"

// Minimal RV64I/A encoders for building test programs byte-for-byte, kept
// local to this package's tests (interp's own encoders are unexported in
// their package and test a different layer).

const (
	opOpImm  = 0x13
	opAuipc  = 0x17
	opStore  = 0x23
	opAmo    = 0x2f
	opBranch = 0x63
)

func encodeI(opcode, funct3 uint32, rs1, rd int, imm int32) uint32 {
	return uint32(imm)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeS(opcode uint32, rs2, rs1 int, funct3 uint32, imm int32) uint32 {
	u := uint32(imm)
	hi := (u >> 5) & 0x7f
	lo := u & 0x1f
	return hi<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | lo<<7 | opcode
}

func encodeB(rs1, rs2 int, funct3 uint32, imm int32) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 0x1
	bit11 := (u >> 11) & 0x1
	bit10_5 := (u >> 5) & 0x3f
	bit4_1 := (u >> 1) & 0xf
	return bit12<<31 | bit10_5<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | bit4_1<<8 | bit11<<7 | opBranch
}

func encodeAmo(funct5, rs1, rs2, rd int, funct3 uint32) uint32 {
	return uint32(funct5)<<27 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opAmo
}

// program packs a slice of 32-bit little-endian instructions into bytes
// suitable for a Config's RAMImage/ROMImage.
func program(words ...uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}
