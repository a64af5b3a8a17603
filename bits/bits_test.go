package bits

import "testing"

func TestLog2SizeRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		l2 := Log2Size(size)
		if l2 < 0 {
			t.Fatalf("Log2Size(%d) returned -1", size)
		}
		if got := SizeFromLog2(l2); got != size {
			t.Fatalf("SizeFromLog2(%d) = %d, want %d", l2, got, size)
		}
	}
	if Log2Size(3) != -1 {
		t.Fatalf("Log2Size(3) should be -1")
	}
}

func TestAligned(t *testing.T) {
	if !Aligned(0x1000, 8) {
		t.Fatal("0x1000 should be 8-aligned")
	}
	if Aligned(0x1001, 8) {
		t.Fatal("0x1001 should not be 8-aligned")
	}
}

func TestReadWriteWordRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	WriteWord(buf, 4, 8, 0xdeadbeefcafef00d)
	if got := ReadWord(buf, 4, 8); got != 0xdeadbeefcafef00d {
		t.Fatalf("got %#x", got)
	}
	WriteWord(buf, 0, 2, 0xabcd)
	if got := ReadWord(buf, 0, 2); got != 0xabcd {
		t.Fatalf("got %#x", got)
	}
}

func TestSignExtend(t *testing.T) {
	if got := SignExtend(0xff, 8); got != 0xffffffffffffffff {
		t.Fatalf("got %#x", got)
	}
	if got := SignExtend(0x7f, 8); got != 0x7f {
		t.Fatalf("got %#x", got)
	}
	if got := SignExtend32(0xffffffff); got != 0xffffffffffffffff {
		t.Fatalf("got %#x", got)
	}
}

func TestZeroExtend(t *testing.T) {
	if got := ZeroExtend(0xff, 4); got != 0xf {
		t.Fatalf("got %#x", got)
	}
}
