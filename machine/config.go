package machine

import "github.com/go-rvm/rvm/pma"

// Standard physical memory layout: a low ROM/shadow region, then RAM
// starting at a round gigabyte-aligned address. Documented once here
// rather than scattered as magic numbers.
const (
	ShadowBase = 0
	ROMBase    = 0x1000
	DHDBase    = 0x2000
	RAMBase    = 0x8000_0000
)

// FlashConfig describes one flash drive PMA entry.
type FlashConfig struct {
	Start  uint64
	Length uint64
	Shared bool // mmap-backed and flushed on Store, vs. a private in-memory copy
	Image  []byte
	Path   string // backing file path when Shared is true
}

// Config is the construction-time record: initial register/CSR values,
// RAM/ROM/flash images, device initial state, and capability toggles.
type Config struct {
	RAMLength uint64
	RAMImage  []byte

	ROMLength   uint64
	ROMImage    []byte
	ROMBootargs string

	FlashDrives []FlashConfig

	InitialPC       uint64
	InitialMisa     uint64
	InitialMtimecmp uint64
	InitialTohost   uint64
	InitialFromhost uint64

	Interactive bool // HTIF console GETCHAR polling capability

	DehashPreimages map[[32]byte][]byte
}

// DefaultConfig mirrors a minimal bootable machine: 64 MiB of RAM, a 4
// KiB ROM page, no flash drives, booting directly into RAM at reset.
func DefaultConfig() Config {
	return Config{
		RAMLength:   64 << 20,
		ROMLength:   pma.PageSize,
		InitialPC:   RAMBase,
		InitialMisa: 0, // 0 means "use riscv.ResetMisa", resolved in resetState
	}
}
