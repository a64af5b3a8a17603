package access

import "github.com/go-rvm/rvm/merkle"

// AccessType distinguishes a read from a write in a recorded Entry.
type AccessType int

const (
	ReadAccess AccessType = iota
	WriteAccess
)

// Entry is one recorded state access: the 8-byte-aligned word it touched,
// the word's value and Merkle siblings *before* the access, and (for
// writes) the value written. Replay uses OldWord+Siblings to verify the
// claimed pre-state root, then folds in the post-access value to produce
// the post-state root, all without ever seeing the live machine.
type Entry struct {
	Type     AccessType
	Paddr    uint64 // 8-byte aligned
	OldWord  uint64
	NewWord  uint64 // meaningful only when Type == WriteAccess
	Siblings []merkle.Hash
}

// Annotation is a bracket or scoped note emitted alongside the access
// trace, mirrored from i_state_access's push_bracket/make_scoped_note.
type Annotation struct {
	Kind       BracketType
	Text       string
	AfterEntry int // index into Log.Entries this annotation follows
}

// PMAEntryInfo is the public (non-provable) shape of one PMA table row,
// carried alongside a Log so Replay can answer ReadPMA without a live
// table. The table layout is machine configuration, not architectural
// state, so it needs no Merkle proof.
type PMAEntryInfo struct {
	Start, Length uint64
}

// Log is the full record of one logged step: every access plus the
// annotations bracketing it, and the pre/post roots the step claims.
type Log struct {
	RootHashBefore merkle.Hash
	RootHashAfter  merkle.Hash
	Entries        []Entry
	Annotations    []Annotation
	PMAEntries     []PMAEntryInfo
}
