package access

// Every piece of architectural state - general registers, CSRs, iflags,
// the CLINT and HTIF registers - lives inside a dedicated "shadow state"
// PMA region, so that the Merkle tree covers the whole machine and not
// just RAM. This file lays out that region: a flat byte buffer with one
// 8-byte slot per register, so that a CSR write is, structurally, the
// same kind of write a RAM byte is - it marks the region's page dirty
// and is provable the same way.

const (
	shadowXBase = 0 // 32 registers x 8 bytes = 256 bytes

	shadowPC = 256

	shadowMinstret  = shadowPC + 8
	shadowMcycle    = shadowMinstret + 8
	shadowMvendorid = shadowMcycle + 8
	shadowMarchid   = shadowMvendorid + 8
	shadowMimpid    = shadowMarchid + 8

	shadowMstatus    = shadowMimpid + 8
	shadowMtvec      = shadowMstatus + 8
	shadowMscratch   = shadowMtvec + 8
	shadowMepc       = shadowMscratch + 8
	shadowMcause     = shadowMepc + 8
	shadowMtval      = shadowMcause + 8
	shadowMisa       = shadowMtval + 8
	shadowMie        = shadowMisa + 8
	shadowMip        = shadowMie + 8
	shadowMedeleg    = shadowMip + 8
	shadowMideleg    = shadowMedeleg + 8
	shadowMcounteren = shadowMideleg + 8

	shadowStvec      = shadowMcounteren + 8
	shadowSscratch   = shadowStvec + 8
	shadowSepc       = shadowSscratch + 8
	shadowScause     = shadowSepc + 8
	shadowStval      = shadowScause + 8
	shadowSatp       = shadowStval + 8
	shadowScounteren = shadowSatp + 8

	shadowIlrsc  = shadowScounteren + 8
	shadowIflags = shadowIlrsc + 8 // bit0=H, bit1=I, bits[9:8]=PRV

	shadowClintMtimecmp  = shadowIflags + 8
	shadowHtifFromhost   = shadowClintMtimecmp + 8
	shadowHtifTohost     = shadowHtifFromhost + 8

	// ShadowSize is the number of bytes the layout above actually uses;
	// the backing PMA region is page-sized and the remainder reads as
	// zero.
	ShadowSize = shadowHtifTohost + 8
)

// Published physical addresses for the shadow registers a guest accesses
// through ordinary loads/stores rather than CSR instructions: HTIF
// tohost/fromhost and the CLINT mtimecmp. A guest SD to HtifTohostAddr and
// a CSR write via WriteHtifTohost hit the exact same byte offset - the
// shadow region is plain memory underneath, so both paths are provable
// the same way. Boot code and device drivers need these published the
// way a real machine publishes its MMIO map.
const (
	HtifTohostAddr    = ShadowBase + shadowHtifTohost
	HtifFromhostAddr  = ShadowBase + shadowHtifFromhost
	ClintMtimecmpAddr = ShadowBase + shadowClintMtimecmp
)

const (
	iflagsHBit  = 1 << 0
	iflagsIBit  = 1 << 1
	iflagsPRVLo = 8
	iflagsPRVMask = 0x3
)
