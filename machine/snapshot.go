package machine

import "github.com/go-rvm/rvm/pma"

// Snapshot is an opaque copy-on-write checkpoint produced by
// Machine.Snapshot and consumed by Machine.Rollback.
type Snapshot struct {
	byEntry map[*pma.Entry]snapshotEntry
}

type snapshotEntry struct {
	data  []byte
	dirty []bool
}

// Snapshot copies every memory region's bytes and dirty bitmap, including
// the shadow region that holds the registers, CSRs and the HTIF/CLINT
// registers. State that devices keep in their own Go structs is not
// copied: the HTIF halt/yield latches and console queues, and the DHD's
// staged hash, requested length and resolved preimage.
// The Merkle tree is not copied - Rollback recomputes it from the
// restored bytes, since hashing is a pure function of content.
func (m *Machine) Snapshot() *Snapshot {
	snap := &Snapshot{byEntry: make(map[*pma.Entry]snapshotEntry)}
	for _, e := range m.table.Entries() {
		if !e.IsMemory() {
			continue
		}
		snap.byEntry[e] = snapshotEntry{
			data:  append([]byte(nil), e.Data...),
			dirty: append([]bool(nil), e.Dirty...),
		}
	}
	return snap
}

// Rollback restores every memory region to the bytes captured by snap,
// marks every restored page dirty, then rehashes. Entries added to the
// table after snap was taken are left untouched; a flash drive swapped by
// ReplaceFlashDrive keeps its entry, so its bytes are restored too.
func (m *Machine) Rollback(snap *Snapshot) {
	for _, e := range m.table.Entries() {
		saved, ok := snap.byEntry[e]
		if !ok {
			continue
		}
		copy(e.Data, saved.data)
		for i := range e.Dirty {
			e.Dirty[i] = true
		}
	}
	m.UpdateMerkleTree()
}
