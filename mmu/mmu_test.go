package mmu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/pma"
	"github.com/go-rvm/rvm/riscv"
)

func newState(t *testing.T) *access.Direct {
	t.Helper()
	shadow, err := access.NewShadowEntry(0)
	require.NoError(t, err)
	ram, err := pma.NewMemoryEntry(0x1000, 5*pma.PageSize, pma.Flags{R: true, W: true, DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl, err := pma.NewTable([]*pma.Entry{shadow, ram})
	require.NoError(t, err)
	return access.NewDirect(shadow, tbl)
}

func TestTranslateBareModeIsIdentity(t *testing.T) {
	s := newState(t)
	paddr, err := Translate(s, 0x1234, riscv.AccessRead, riscv.PrivS)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), paddr)
}

func TestTranslateSv39ThreeLevelWalk(t *testing.T) {
	s := newState(t)

	const (
		l2 = 0x1000
		l1 = 0x2000
		l0 = 0x3000
	)
	s.WriteSatp((riscv.SatpModeSv39 << 60) | (l2 >> 12))
	s.WriteMemory(l2+0*8, 3, (uint64(l1>>12)<<10)|riscv.PteV)
	s.WriteMemory(l1+128*8, 3, (uint64(l0>>12)<<10)|riscv.PteV)
	s.WriteMemory(l0+0*8, 3, (uint64(0x4000>>12)<<10)|riscv.PteV|riscv.PteR|riscv.PteW|riscv.PteX)

	vaddr := uint64(0x10000000 + 0x123)
	paddr, err := Translate(s, vaddr, riscv.AccessWrite, riscv.PrivS)
	require.NoError(t, err)
	require.Equal(t, uint64(0x4123), paddr)

	leaf := s.ReadMemory(l0, 3)
	require.NotZero(t, leaf&riscv.PteA, "A bit should be set after the walk")
	require.NotZero(t, leaf&riscv.PteD, "D bit should be set after a write access")
}

func TestTranslateInvalidPTEFaults(t *testing.T) {
	s := newState(t)
	s.WriteSatp((riscv.SatpModeSv39 << 60) | (0x1000 >> 12))
	// Leave the level-2 table entirely zero: PteV is unset everywhere.
	_, err := Translate(s, 0x10000000, riscv.AccessRead, riscv.PrivS)
	require.Error(t, err)
	trap, ok := err.(riscv.Trap)
	require.True(t, ok)
	require.Equal(t, riscv.CauseLoadPageFault, trap.Cause)
}

func TestTranslateWritePermissionFault(t *testing.T) {
	s := newState(t)
	const l2 = 0x1000
	s.WriteSatp((riscv.SatpModeSv39 << 60) | (l2 >> 12))
	// A read-only superpage leaf straight at the root level.
	s.WriteMemory(l2, 3, (uint64(0)<<10)|riscv.PteV|riscv.PteR)

	_, err := Translate(s, 0x10000000, riscv.AccessWrite, riscv.PrivS)
	require.Error(t, err)
	trap, ok := err.(riscv.Trap)
	require.True(t, ok)
	require.Equal(t, riscv.CauseStorePageFault, trap.Cause)
}

func TestEffectivePrivMPRV(t *testing.T) {
	mstatus := riscv.MstatusMPRV | (uint64(riscv.PrivS) << riscv.MstatusMPPShift)
	require.Equal(t, riscv.PrivS, EffectivePriv(riscv.PrivM, mstatus, riscv.AccessWrite))
	require.Equal(t, riscv.PrivM, EffectivePriv(riscv.PrivM, mstatus, riscv.AccessFetch))
	require.Equal(t, riscv.PrivM, EffectivePriv(riscv.PrivM, 0, riscv.AccessWrite))
}
