// Package mmu implements the Sv39/Sv48 page-table walker, translating a
// virtual address to a physical one through whatever access.State the
// caller hands it - Direct during normal execution, Logging while
// recording a provable step, Replay while verifying one. A TLB is
// intentionally not part of this package: every walk goes through State
// so that Logging sees (and proves) every PTE read and A/D-bit write a
// walk performs, which a cached translation would hide.
package mmu

import (
	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/riscv"
)

// Translate resolves vaddr for the given access kind and current
// privilege level, walking the page table rooted at satp if translation
// is enabled. Bare mode (SatpModeOff) and machine mode (except under
// MPRV, which the caller resolves into effPriv before calling) return
// vaddr unchanged.
func Translate(s access.State, vaddr uint64, kind riscv.Access, effPriv uint8) (uint64, error) {
	satp := s.ReadSatp()
	mode := satp >> 60

	if mode == riscv.SatpModeOff || effPriv == riscv.PrivM {
		return vaddr, nil
	}

	var levels int
	switch mode {
	case riscv.SatpModeSv39:
		levels = 3
		if !canonical(vaddr, 38) {
			return 0, pageFault(kind, vaddr)
		}
	case riscv.SatpModeSv48:
		levels = 4
		if !canonical(vaddr, 47) {
			return 0, pageFault(kind, vaddr)
		}
	default:
		return 0, pageFault(kind, vaddr)
	}

	ppn := satp & ((uint64(1) << riscv.PpnBits) - 1)
	pteAddr := ppn << riscv.PageShift

	mstatus := s.ReadMstatus()

	var pte uint64
	pageSize := uint64(1) << riscv.PageShift
	for level := levels - 1; level >= 0; level-- {
		vpnShift := riscv.PageShift + level*riscv.VpnBits
		vpn := (vaddr >> uint(vpnShift)) & 0x1ff

		entryAddr := pteAddr + vpn*riscv.PteSize
		pte = s.ReadMemory(entryAddr, 3)

		if pte&riscv.PteV == 0 {
			return 0, pageFault(kind, vaddr)
		}
		if pte&riscv.PteR == 0 && pte&riscv.PteW != 0 {
			return 0, pageFault(kind, vaddr)
		}

		if pte&(riscv.PteR|riscv.PteX) != 0 {
			// Leaf PTE.
			if level > 0 {
				mask := (uint64(1) << uint(level*riscv.VpnBits)) - 1
				if (pte>>10)&mask != 0 {
					return 0, pageFault(kind, vaddr)
				}
				pageSize = uint64(1) << uint(riscv.PageShift+level*riscv.VpnBits)
			}

			if err := checkPermissions(pte, kind, effPriv, mstatus); err != nil {
				return 0, err
			}

			needsA := pte&riscv.PteA == 0
			needsD := kind == riscv.AccessWrite && pte&riscv.PteD == 0
			if needsA || needsD {
				updated := pte | riscv.PteA
				if kind == riscv.AccessWrite {
					updated |= riscv.PteD
				}
				s.WriteMemory(entryAddr, 3, updated)
				pte = updated
			}

			ppn := (pte >> 10) & ((uint64(1) << riscv.PpnBits) - 1)
			pageOffset := vaddr & (pageSize - 1)
			if level > 0 {
				mask := (uint64(1) << uint(level*riscv.VpnBits)) - 1
				vpnBits := (vaddr >> riscv.PageShift) & mask
				ppn = (ppn &^ mask) | vpnBits
			}
			return (ppn << riscv.PageShift) | pageOffset, nil
		}

		// Non-leaf: descend.
		pteAddr = ((pte >> 10) & ((uint64(1) << riscv.PpnBits) - 1)) << riscv.PageShift
	}
	return 0, pageFault(kind, vaddr)
}

func canonical(vaddr uint64, topBit int) bool {
	top := uint64(1) << uint(topBit)
	return vaddr < top || vaddr >= ^uint64(0)-top+1
}

func checkPermissions(pte uint64, kind riscv.Access, priv uint8, mstatus uint64) error {
	if priv == riscv.PrivU {
		if pte&riscv.PteU == 0 {
			return pageFault(kind, 0)
		}
	} else if pte&riscv.PteU != 0 && mstatus&riscv.MstatusSUM == 0 {
		return pageFault(kind, 0)
	}

	switch kind {
	case riscv.AccessRead:
		if pte&riscv.PteR == 0 {
			if mstatus&riscv.MstatusMXR != 0 && pte&riscv.PteX != 0 {
				return nil
			}
			return pageFault(kind, 0)
		}
	case riscv.AccessWrite:
		if pte&riscv.PteW == 0 {
			return pageFault(kind, 0)
		}
	case riscv.AccessFetch:
		if pte&riscv.PteX == 0 {
			return pageFault(kind, 0)
		}
	}
	return nil
}

func pageFault(kind riscv.Access, vaddr uint64) error {
	switch kind {
	case riscv.AccessWrite:
		return riscv.Trap{Cause: riscv.CauseStorePageFault, Tval: vaddr}
	case riscv.AccessFetch:
		return riscv.Trap{Cause: riscv.CauseInsnPageFault, Tval: vaddr}
	default:
		return riscv.Trap{Cause: riscv.CauseLoadPageFault, Tval: vaddr}
	}
}

// EffectivePriv resolves the privilege level a data access should be
// checked against, honoring mstatus.MPRV the way the privileged spec
// requires: a machine-mode load/store run as if from mstatus.MPP, except
// instruction fetches, which always use the real current privilege.
func EffectivePriv(curPriv uint8, mstatus uint64, kind riscv.Access) uint8 {
	if curPriv == riscv.PrivM && kind != riscv.AccessFetch && mstatus&riscv.MstatusMPRV != 0 {
		return uint8((mstatus & riscv.MstatusMPP) >> riscv.MstatusMPPShift)
	}
	return curPriv
}
