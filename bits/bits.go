// Package bits implements strict-aliasing-safe aligned access to raw byte
// buffers, plus the sign/zero extension helpers the interpreter and the
// memory subsystem share.
package bits

import "encoding/binary"

// Log2Size returns the power-of-two log2 of an access size in bytes, or -1
// if size is not one of 1, 2, 4, 8.
func Log2Size(size int) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return -1
	}
}

// SizeFromLog2 is the inverse of Log2Size.
func SizeFromLog2(log2Size int) int {
	return 1 << uint(log2Size)
}

// Aligned reports whether addr is a multiple of size (size must be a power
// of two).
func Aligned(addr uint64, size int) bool {
	return addr&uint64(size-1) == 0
}

// ReadWord reads a little-endian word of the given byte width (1, 2, 4, or
// 8) from buf at offset. The caller guarantees buf[offset:offset+width] is
// in range.
func ReadWord(buf []byte, offset uint64, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[offset])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[offset:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[offset:]))
	case 8:
		return binary.LittleEndian.Uint64(buf[offset:])
	default:
		panic("bits: unsupported word width")
	}
}

// WriteWord writes the low width bytes of val, little-endian, into
// buf[offset:offset+width].
func WriteWord(buf []byte, offset uint64, width int, val uint64) {
	switch width {
	case 1:
		buf[offset] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(buf[offset:], val)
	default:
		panic("bits: unsupported word width")
	}
}

// SignExtend sign-extends the low `width` bits of val (width in bits, 1-64)
// to a full int64 and returns it reinterpreted as uint64.
func SignExtend(val uint64, width uint) uint64 {
	shift := 64 - width
	return uint64(int64(val<<shift) >> shift)
}

// SignExtend32 sign-extends a 32-bit value to 64 bits.
func SignExtend32(val uint32) uint64 {
	return uint64(int64(int32(val)))
}

// ZeroExtend masks val down to its low `width` bits.
func ZeroExtend(val uint64, width uint) uint64 {
	if width >= 64 {
		return val
	}
	return val & (uint64(1)<<width - 1)
}
