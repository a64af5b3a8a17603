package interp

import (
	"fmt"

	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/riscv"
)

// CSR addresses: the standard RISC-V privileged-spec encodings,
// numerically identical across any RV64 core. Only the subset the
// state-access layer exposes is listed; CSRs outside this set (float,
// hpmcounters, debug) are not implemented and decode as
// illegal-instruction.
const (
	csrSstatus    uint16 = 0x100
	csrSie        uint16 = 0x104
	csrStvec      uint16 = 0x105
	csrScounteren uint16 = 0x106
	csrSscratch   uint16 = 0x140
	csrSepc       uint16 = 0x141
	csrScause     uint16 = 0x142
	csrStval      uint16 = 0x143
	csrSip        uint16 = 0x144
	csrSatp       uint16 = 0x180

	csrMstatus    uint16 = 0x300
	csrMisa       uint16 = 0x301
	csrMedeleg    uint16 = 0x302
	csrMideleg    uint16 = 0x303
	csrMie        uint16 = 0x304
	csrMtvec      uint16 = 0x305
	csrMcounteren uint16 = 0x306
	csrMscratch   uint16 = 0x340
	csrMepc       uint16 = 0x341
	csrMcause     uint16 = 0x342
	csrMtval      uint16 = 0x343
	csrMip        uint16 = 0x344

	csrMvendorid uint16 = 0xf11
	csrMarchid   uint16 = 0xf12
	csrMimpid    uint16 = 0xf13
	csrMhartid   uint16 = 0xf14

	csrCycle   uint16 = 0xc00
	csrTime    uint16 = 0xc01
	csrInstret uint16 = 0xc02

	csrMcycle   uint16 = 0xb00
	csrMinstret uint16 = 0xb02
)

// sstatus is the subset of mstatus visible at S-mode, per the privileged
// spec's "restricted view" rule.
const sstatusMask = riscv.MstatusSIE | riscv.MstatusSPIE | riscv.MstatusSPP |
	riscv.MstatusSUM | riscv.MstatusMXR

// mstatusWriteMask covers the fields this implementation actually models.
// SXL/UXL are not writable (readCSR reports them pinned to 64-bit via
// mstatusXL64), and reserved bits read-as-zero, which this mask enforces
// by omission.
const mstatusWriteMask = riscv.MstatusSIE | riscv.MstatusMIE | riscv.MstatusSPIE |
	riscv.MstatusMPIE | riscv.MstatusSPP | riscv.MstatusMPP | riscv.MstatusMPRV |
	riscv.MstatusSUM | riscv.MstatusMXR | riscv.MstatusTVM | riscv.MstatusTW |
	riscv.MstatusTSR

// mstatusXL64 is SXL (bits 35:34) and UXL (bits 33:32) both holding 2,
// the 64-bit encoding.
const mstatusXL64 = uint64(2)<<34 | uint64(2)<<32

const midelegWriteMask = riscv.MipSSIP | riscv.MipSTIP | riscv.MipSEIP
const medelegWriteMask = uint64(0xb3ff) // standard synchronous exceptions, no reserved causes

const mieWriteMask = riscv.MipSSIP | riscv.MipMSIP | riscv.MipSTIP | riscv.MipMTIP | riscv.MipSEIP | riscv.MipMEIP
const mipWriteableFromSoftware = riscv.MipSSIP // the rest are latched by devices/traps only

// ReadCSR and WriteCSR are the unprivileged host-facing pokes
// (read_csr/write_csr): unlike the in-guest CSRRW family, the host is
// not subject to priv-level gating, so these bypass csrAccessible and
// report an unimplemented CSR as a plain error rather than a guest trap.
func ReadCSR(s access.State, addr uint16) (uint64, error) {
	v, trap := readCSR(s, addr, riscv.PrivM)
	if trap != nil {
		return 0, fmt.Errorf("interp: unimplemented CSR %#x", addr)
	}
	return v, nil
}

// WriteCSR bypasses the priv gating in writeCSR's in-guest path for the
// same host-poke reason ReadCSR does; read-only CSRs (address bits [11:10]
// == 0b11) are still refused and reported as an error.
func WriteCSR(s access.State, addr uint16, val uint64) error {
	if trap := writeCSR(s, addr, val, riscv.PrivM); trap != nil {
		return fmt.Errorf("interp: unimplemented or read-only CSR %#x", addr)
	}
	return nil
}

// readCSR returns a CSR's value as seen from the current privilege, or a
// riscv.Trap if the CSR is unimplemented or not accessible.
func readCSR(s access.State, addr uint16, priv uint8) (uint64, *riscv.Trap) {
	if !csrAccessible(addr, priv) {
		return 0, illegalInsn(0)
	}
	switch addr {
	case csrMstatus:
		return s.ReadMstatus() | mstatusXL64, nil
	case csrSstatus:
		return s.ReadMstatus() & sstatusMask, nil
	case csrMisa:
		return s.ReadMisa(), nil
	case csrMedeleg:
		return s.ReadMedeleg(), nil
	case csrMideleg:
		return s.ReadMideleg(), nil
	case csrMie:
		return s.ReadMie(), nil
	case csrSie:
		return s.ReadMie() & midelegVisible(s), nil
	case csrMtvec:
		return s.ReadMtvec(), nil
	case csrStvec:
		return s.ReadStvec(), nil
	case csrMcounteren:
		return s.ReadMcounteren(), nil
	case csrScounteren:
		return s.ReadScounteren(), nil
	case csrMscratch:
		return s.ReadMscratch(), nil
	case csrSscratch:
		return s.ReadSscratch(), nil
	case csrMepc:
		return s.ReadMepc(), nil
	case csrSepc:
		return s.ReadSepc(), nil
	case csrMcause:
		return s.ReadMcause(), nil
	case csrScause:
		return s.ReadScause(), nil
	case csrMtval:
		return s.ReadMtval(), nil
	case csrStval:
		return s.ReadStval(), nil
	case csrMip:
		return s.ReadMip(), nil
	case csrSip:
		return s.ReadMip() & midelegVisible(s), nil
	case csrSatp:
		return s.ReadSatp(), nil
	case csrMvendorid:
		return s.ReadMvendorid(), nil
	case csrMarchid:
		return s.ReadMarchid(), nil
	case csrMimpid:
		return s.ReadMimpid(), nil
	case csrMhartid:
		return 0, nil
	case csrCycle, csrMcycle:
		return s.ReadMcycle(), nil
	case csrTime:
		return s.ReadMcycle(), nil
	case csrInstret, csrMinstret:
		return s.ReadMinstret(), nil
	default:
		return 0, illegalInsn(0)
	}
}

// writeCSR applies val to a CSR, masking to its writable bits.
func writeCSR(s access.State, addr uint16, val uint64, priv uint8) *riscv.Trap {
	if !csrAccessible(addr, priv) || csrReadOnly(addr) {
		return illegalInsn(0)
	}
	switch addr {
	case csrMstatus:
		s.WriteMstatus(val & mstatusWriteMask)
	case csrSstatus:
		cur := s.ReadMstatus()
		s.WriteMstatus((cur &^ sstatusMask) | (val & sstatusMask))
	case csrMedeleg:
		s.WriteMedeleg(val & medelegWriteMask)
	case csrMideleg:
		s.WriteMideleg(val & midelegWriteMask)
	case csrMie:
		s.WriteMie(val & mieWriteMask)
	case csrSie:
		cur := s.ReadMie()
		mask := midelegVisible(s)
		s.WriteMie((cur &^ mask) | (val & mask))
	case csrMtvec:
		s.WriteMtvec(val)
	case csrStvec:
		s.WriteStvec(val)
	case csrMcounteren:
		s.WriteMcounteren(val)
	case csrScounteren:
		s.WriteScounteren(val)
	case csrMscratch:
		s.WriteMscratch(val)
	case csrSscratch:
		s.WriteSscratch(val)
	case csrMepc:
		s.WriteMepc(val &^ 1)
	case csrSepc:
		s.WriteSepc(val &^ 1)
	case csrMcause:
		s.WriteMcause(val)
	case csrScause:
		s.WriteScause(val)
	case csrMtval:
		s.WriteMtval(val)
	case csrStval:
		s.WriteStval(val)
	case csrMip:
		cur := s.ReadMip()
		s.WriteMip((cur &^ mipWriteableFromSoftware) | (val & mipWriteableFromSoftware))
	case csrSip:
		cur := s.ReadMip()
		mask := midelegVisible(s) & mipWriteableFromSoftware
		s.WriteMip((cur &^ mask) | (val & mask))
	case csrSatp:
		s.WriteSatp(val)
	default:
		return illegalInsn(0)
	}
	return nil
}

// midelegVisible returns the mip/mie bits S-mode is allowed to see through
// sip/sie, per mideleg.
func midelegVisible(s access.State) uint64 {
	return s.ReadMideleg()
}

// csrAccessible reports whether priv may access the CSR at addr, per the
// standard encoding where bits [9:8] of the address carry the minimum
// privilege.
func csrAccessible(addr uint16, priv uint8) bool {
	minPriv := uint8((addr >> 8) & 0x3)
	return priv >= minPriv
}

// csrReadOnly reports whether addr's top two bits mark it read-only.
func csrReadOnly(addr uint16) bool {
	return (addr>>10)&0x3 == 0x3
}

// CSRByName maps the conventional RISC-V CSR mnemonics to their address,
// for host tooling (the debugger, the monitor API) that names a register
// rather than carrying its numeric encoding.
var CSRByName = map[string]uint16{
	"sstatus": csrSstatus, "sie": csrSie, "stvec": csrStvec,
	"scounteren": csrScounteren, "sscratch": csrSscratch, "sepc": csrSepc,
	"scause": csrScause, "stval": csrStval, "sip": csrSip, "satp": csrSatp,
	"mstatus": csrMstatus, "misa": csrMisa, "medeleg": csrMedeleg,
	"mideleg": csrMideleg, "mie": csrMie, "mtvec": csrMtvec,
	"mcounteren": csrMcounteren, "mscratch": csrMscratch, "mepc": csrMepc,
	"mcause": csrMcause, "mtval": csrMtval, "mip": csrMip,
	"mvendorid": csrMvendorid, "marchid": csrMarchid, "mimpid": csrMimpid,
	"mhartid": csrMhartid, "cycle": csrCycle, "time": csrTime,
	"instret": csrInstret, "mcycle": csrMcycle, "minstret": csrMinstret,
}
