package service

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/config"
	"github.com/go-rvm/rvm/loader"
)

// nopWord is "addi x0, x0, 0", a RISC-V nop: opcode OP-IMM, funct3 0,
// rd/rs1/imm all zero.
const nopWord = 0x00000013

func newTestSession(t *testing.T) *Session {
	t.Helper()
	lm, err := loader.Load(config.DefaultMachineConfig())
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	return NewSession(lm)
}

// newRunnableTestSession loads a machine whose RAM starts with n nops, so
// Run can advance PC in a straight line instead of trapping immediately on
// zero-filled (illegal-instruction) memory.
func newRunnableTestSession(t *testing.T, n int) *Session {
	t.Helper()

	image := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(image[i*4:], nopWord)
	}
	path := filepath.Join(t.TempDir(), "ram.bin")
	require.NoError(t, os.WriteFile(path, image, 0600))

	mc := config.DefaultMachineConfig()
	mc.RAM.Image = path

	lm, err := loader.Load(mc)
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	return NewSession(lm)
}

func TestSessionStepAdvancesState(t *testing.T) {
	s := newTestSession(t)

	before := s.Registers()
	_, err := s.Step()
	require.NoError(t, err)
	after := s.Registers()

	require.Equal(t, before.Mcycle+1, after.Mcycle)
}

func TestSessionBreakpointStopsRun(t *testing.T) {
	s := newRunnableTestSession(t, 3)

	bp := s.Registers().PC + 8
	s.SetBreakpoint(bp)
	require.Len(t, s.Breakpoints(), 1)

	state, err := s.Run(1_000_000, nil)
	require.NoError(t, err)
	require.Equal(t, StateBreakpoint, state)
	require.Equal(t, bp, s.Registers().PC)

	s.ClearBreakpoint(bp)
	require.Empty(t, s.Breakpoints())
}

func TestSessionRootHashChangesAfterWrite(t *testing.T) {
	s := newTestSession(t)

	before := s.GetRootHash()
	require.NoError(t, s.WriteMemory(0x8000_0000, []byte{1, 2, 3, 4}))
	after := s.GetRootHash()

	require.NotEqual(t, before, after)
}

func TestSessionSnapshotRollback(t *testing.T) {
	s := newTestSession(t)

	before := s.GetRootHash()
	snap := s.Snapshot()
	require.NoError(t, s.WriteMemory(0x8000_0000, []byte{9, 9, 9, 9}))
	require.NotEqual(t, before, s.GetRootHash())

	s.Rollback(snap)
	require.Equal(t, before, s.GetRootHash())
}
