package machine

import (
	"testing"

	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/merkle"
	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/verify"
)

func newTestMachine(t *testing.T, ramImage []byte) *Machine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RAMImage = ramImage
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

// TestBootAndHalt checks that a program writing a halt request to
// tohost stops Run and latches iflags.H.
func TestBootAndHalt(t *testing.T) {
	prog := program(
		encodeI(opOpImm, 0, 0, 1, 1),                             // addi x1, x0, 1
		encodeI(opOpImm, 0, 0, 2, int32(access.HtifTohostAddr)), // addi x2, x0, HtifTohostAddr
		encodeS(opStore, 1, 2, 3, 0),                             // sd x1, 0(x2)
	)
	m := newTestMachine(t, prog)

	err := m.Run(10_000)
	require.NoError(t, err)

	halted, code := m.Halted()
	require.True(t, halted)
	require.Equal(t, uint64(0), code)
	require.Greater(t, m.ReadPC(), uint64(0))
}

// TestLrScSuccess checks that an uninterrupted lr.d/sc.d pair succeeds
// (sc writes x2=0) and commits the new value.
func TestLrScSuccess(t *testing.T) {
	prog := program(
		encodeI(opAuipc, 0, 0, 10, 0),      // auipc x10, 0 (x10 = RAMBase, where the program starts)
		encodeI(opOpImm, 0, 10, 10, 0x100), // addi x10, x10, 0x100 (target address within RAM)
		encodeI(opOpImm, 0, 0, 3, 7),       // addi x3, x0, 7 (value to store)
		encodeAmo(0b00010, 10, 0, 1, 3),    // lr.d x1, (x10)
		encodeAmo(0b00011, 10, 3, 2, 3),    // sc.d x2, x3, (x10)
	)
	m := newTestMachine(t, prog)

	for i := 0; i < 5; i++ {
		_, err := m.Step()
		require.NoError(t, err)
	}

	require.Equal(t, uint64(0), m.ReadX(2))
	data, err := m.ReadMemory(RAMBase+0x100, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(7), leU64(data))
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// TestStepVerifyRoundTrip checks that a logged step verifies cleanly
// from its own pre/post roots, and that a single flipped byte anywhere
// in the log causes rejection.
func TestStepVerifyRoundTrip(t *testing.T) {
	prog := program(
		encodeI(opOpImm, 0, 0, 1, 5), // addi x1, x0, 5
	)
	m := newTestMachine(t, prog)
	m.UpdateMerkleTree()
	preRoot := m.GetRootHash()

	log, err := m.Step()
	require.NoError(t, err)
	require.Equal(t, preRoot, log.RootHashBefore)

	postRoot := log.RootHashAfter
	require.True(t, verify.VerifyStateTransition(preRoot, log, postRoot))

	require.Greater(t, len(log.Entries), 0)
	log.Entries[0].OldWord ^= 1
	require.False(t, verify.VerifyStateTransition(preRoot, log, postRoot))
}

// TestProofSoundness checks that a proof for an address verifies
// against the true root and fails against a tampered one.
func TestProofSoundness(t *testing.T) {
	prog := program(encodeI(opOpImm, 0, 0, 1, 1))
	m := newTestMachine(t, prog)
	m.UpdateMerkleTree()
	root := m.GetRootHash()

	proof, err := m.GetProof(RAMBase, 3)
	require.NoError(t, err)
	require.True(t, merkle.VerifyProof(RAMBase, 3, proof.TargetHash, proof.Siblings, root))

	tampered := root
	tampered[0] ^= 0xff
	require.False(t, merkle.VerifyProof(RAMBase, 3, proof.TargetHash, proof.Siblings, tampered))
}

// TestSnapshotRollback exercises the copy-on-write checkpoint contract:
// snapshot, mutate, rollback restores the root hash exactly.
func TestSnapshotRollback(t *testing.T) {
	prog := program(encodeI(opOpImm, 0, 0, 1, 1))
	m := newTestMachine(t, prog)
	m.UpdateMerkleTree()
	before := m.GetRootHash()

	snap := m.Snapshot()
	require.NoError(t, m.WriteMemory(RAMBase+0x200, []byte{1, 2, 3, 4}))
	m.UpdateMerkleTree()
	require.NotEqual(t, before, m.GetRootHash())

	m.Rollback(snap)
	require.Equal(t, before, m.GetRootHash())
}

// TestStoreLoadRoundTrip exercises store(dir)/load(dir): the reloaded
// machine's root hash must match the original.
func TestStoreLoadRoundTrip(t *testing.T) {
	prog := program(encodeI(opOpImm, 0, 0, 1, 1))
	m := newTestMachine(t, prog)
	_, err := m.Step()
	require.NoError(t, err)
	m.UpdateMerkleTree()
	want := m.GetRootHash()

	dir := t.TempDir()
	require.NoError(t, m.Store(dir))

	reloaded, err := Load(dir)
	require.NoError(t, err)
	reloaded.UpdateMerkleTree()
	require.Equal(t, want, reloaded.GetRootHash())
}

// TestReplaceFlashDrive exercises replace_flash_drive: the swapped region
// reads back the new bytes and the root changes.
func TestReplaceFlashDrive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlashDrives = []FlashConfig{{Start: 0x4000_0000, Length: pmaPageSizeForTest, Image: []byte{1, 2, 3}}}
	m, err := New(cfg)
	require.NoError(t, err)
	m.UpdateMerkleTree()
	before := m.GetRootHash()

	require.NoError(t, m.ReplaceFlashDrive(0x4000_0000, pmaPageSizeForTest, []byte{9, 9, 9}))
	data, err := m.ReadMemory(0x4000_0000, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9}, data)
	require.NotEqual(t, before, m.GetRootHash())
}

const pmaPageSizeForTest = 1 << 12
