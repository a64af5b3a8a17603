package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/pma"
)

func newTable(t *testing.T, entries ...*pma.Entry) *pma.Table {
	t.Helper()
	tbl, err := pma.NewTable(entries)
	require.NoError(t, err)
	return tbl
}

func TestEmptyTableRootIsPristine(t *testing.T) {
	tbl := newTable(t)
	tree := New(tbl)
	require.Equal(t, PristineHash(RootLog2Size), tree.Root())
}

func TestWriteChangesRoot(t *testing.T) {
	ram, err := pma.NewMemoryEntry(0x1000, pma.PageSize, pma.Flags{R: true, W: true, DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl := newTable(t, ram)
	tree := New(tbl)

	before := tree.Root()
	ram.Data[0] = 0x42
	ram.MarkDirty(0)
	after := tree.Root()
	require.NotEqual(t, before, after)
}

func TestUpdateIsIdempotentWithoutNewWrites(t *testing.T) {
	ram, err := pma.NewMemoryEntry(0x1000, pma.PageSize, pma.Flags{DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl := newTable(t, ram)
	tree := New(tbl)

	ram.Data[10] = 7
	ram.MarkDirty(10)
	r1 := tree.Root()
	r2 := tree.Root()
	require.Equal(t, r1, r2)
}

func TestProofRoundTrips(t *testing.T) {
	ram, err := pma.NewMemoryEntry(0x1000, pma.PageSize, pma.Flags{DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl := newTable(t, ram)
	tree := New(tbl)

	ram.Data[8] = 0xaa
	ram.MarkDirty(8)

	proof, err := tree.GetProof(0x1008, LeafLog2Size)
	require.NoError(t, err)
	require.True(t, VerifyProof(proof.Address, proof.Log2Size, proof.TargetHash, proof.Siblings, proof.RootHash))
	require.Equal(t, tree.Root(), proof.RootHash)
}

func TestProofRejectsMisalignedAddress(t *testing.T) {
	tbl := newTable(t)
	tree := New(tbl)
	_, err := tree.GetProof(0x1001, LeafLog2Size)
	require.Error(t, err)
}

func TestVerifyProofDetectsTampering(t *testing.T) {
	ram, err := pma.NewMemoryEntry(0x1000, pma.PageSize, pma.Flags{DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl := newTable(t, ram)
	tree := New(tbl)

	proof, err := tree.GetProof(0x1000, LeafLog2Size)
	require.NoError(t, err)

	tampered := proof.TargetHash
	tampered[0] ^= 0xff
	require.False(t, VerifyProof(proof.Address, proof.Log2Size, tampered, proof.Siblings, proof.RootHash))
}

func TestVerifyMerkleTreeAndDirtyPageMaps(t *testing.T) {
	ram, err := pma.NewMemoryEntry(0x1000, pma.PageSize, pma.Flags{DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl := newTable(t, ram)
	tree := New(tbl)

	ram.Data[0] = 1
	ram.MarkDirty(0)
	require.True(t, tree.VerifyMerkleTree())
	require.True(t, tree.VerifyDirtyPageMaps())

	// Mutate the page without marking it dirty: the cached page root now
	// disagrees with the live content.
	ram.Data[1] = 2
	require.False(t, tree.VerifyDirtyPageMaps())
}

func TestDevicePeekContributesToHash(t *testing.T) {
	pristinePage := true
	drv := &pma.Driver{
		Name: "test-device",
		Peek: func(pageOffset uint64, scratch []byte) ([]byte, bool) {
			if pristinePage {
				return nil, true
			}
			scratch[0] = 0x55
			return scratch, true
		},
	}
	dev, err := pma.NewDeviceEntry(0x4000, pma.PageSize, pma.Flags{R: true, DID: pma.DIDHTIF}, drv)
	require.NoError(t, err)
	tbl := newTable(t, dev)
	tree := New(tbl)

	before := tree.Root()
	pristinePage = false
	after := tree.Root()
	require.NotEqual(t, before, after)
}
