// Package access implements the three-variant state-access abstraction:
// a single State interface with a fast Direct implementation, a Logging
// implementation that records every access as a Merkle-proved step, and
// a Replay implementation that answers the same interface purely from a
// previously recorded log. The split is expressed the idiomatic Go way:
// one interface, three concrete types, selected by ordinary dynamic
// dispatch.
package access

// BracketType distinguishes the begin/end markers logging emits around a
// named scope.
type BracketType int

const (
	BracketBegin BracketType = iota
	BracketEnd
)

// Note closes a scoped annotation opened by State.PushNote.
type Note interface {
	Close()
}

// State is the full set of architectural state operations every
// instruction, trap handler, and device touches. Direct, Logging, and
// Replay all implement it; code written against State works unmodified
// against real execution, logged execution, or pure log replay.
type State interface {
	ReadX(reg int) uint64
	WriteX(reg int, val uint64)

	ReadPC() uint64
	WritePC(val uint64)

	ReadMinstret() uint64
	WriteMinstret(val uint64)
	ReadMcycle() uint64
	WriteMcycle(val uint64)

	ReadMvendorid() uint64
	ReadMarchid() uint64
	ReadMimpid() uint64

	ReadMstatus() uint64
	WriteMstatus(val uint64)
	ReadMtvec() uint64
	WriteMtvec(val uint64)
	ReadMscratch() uint64
	WriteMscratch(val uint64)
	ReadMepc() uint64
	WriteMepc(val uint64)
	ReadMcause() uint64
	WriteMcause(val uint64)
	ReadMtval() uint64
	WriteMtval(val uint64)
	ReadMisa() uint64
	WriteMisa(val uint64)
	ReadMie() uint64
	WriteMie(val uint64)
	ReadMip() uint64
	WriteMip(val uint64)
	ReadMedeleg() uint64
	WriteMedeleg(val uint64)
	ReadMideleg() uint64
	WriteMideleg(val uint64)
	ReadMcounteren() uint64
	WriteMcounteren(val uint64)

	ReadStvec() uint64
	WriteStvec(val uint64)
	ReadSscratch() uint64
	WriteSscratch(val uint64)
	ReadSepc() uint64
	WriteSepc(val uint64)
	ReadScause() uint64
	WriteScause(val uint64)
	ReadStval() uint64
	WriteStval(val uint64)
	ReadSatp() uint64
	WriteSatp(val uint64)
	ReadScounteren() uint64
	WriteScounteren(val uint64)

	ReadIlrsc() uint64
	WriteIlrsc(val uint64)

	SetIflagsH()
	ReadIflagsH() bool
	SetIflagsI()
	ResetIflagsI()
	ReadIflagsI() bool
	ReadIflagsPRV() uint8
	WriteIflagsPRV(val uint8)

	ReadClintMtimecmp() uint64
	WriteClintMtimecmp(val uint64)
	ReadHtifFromhost() uint64
	WriteHtifFromhost(val uint64)
	ReadHtifTohost() uint64
	WriteHtifTohost(val uint64)

	// ReadPMA returns the start/length pair of PMA entry index i, or
	// (0, 0) past the end of the table.
	ReadPMA(i int) (start, length uint64)

	// ReadMemory and WriteMemory operate on a physical address already
	// known to be covered by a single PMA memory entry and aligned to
	// 1<<log2Size bytes; callers resolve through the PMA table first.
	ReadMemory(paddr uint64, log2Size int) uint64
	WriteMemory(paddr uint64, log2Size int, val uint64)

	// PushBracket and PushNote are no-ops on Direct and Replay; Logging
	// records them as annotations alongside the access trace.
	PushBracket(kind BracketType, text string)
	PushNote(text string) Note
}
