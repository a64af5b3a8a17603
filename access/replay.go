package access

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rvm/rvm/merkle"
)

// ShadowBase is the fixed physical address the shadow-state region is
// always mapped at; Replay has no PMA table to consult, so it must agree
// with machine.Machine's placement by convention rather than by lookup.
const ShadowBase = 0

// Replay answers the State interface purely from a previously recorded
// Log, folding each entry's siblings into a running root hash and
// panicking (caught by verify.VerifyAccessLog) the moment the log
// disagrees with what the replayed instruction expects to see. It never
// touches a pma.Table or a live merkle.Tree: this is the point of the
// three-variant state-access abstraction - the same instruction-execution
// code runs unchanged against it.
type Replay struct {
	log    *Log
	cursor int
	root   merkle.Hash
}

// NewReplay starts replaying log from its recorded pre-state root.
func NewReplay(log *Log) *Replay {
	return &Replay{log: log, root: log.RootHashBefore}
}

// Root returns the current folded root hash after all accesses consumed
// so far. Once every entry in the log has been replayed this must equal
// log.RootHashAfter for the step to be considered valid.
func (r *Replay) Root() merkle.Hash { return r.root }

// Exhausted reports whether every logged entry has been consumed.
func (r *Replay) Exhausted() bool { return r.cursor == len(r.log.Entries) }

func wordBytes(word uint64) [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	return buf
}

func (r *Replay) next(expectedPaddr uint64) *Entry {
	if r.cursor >= len(r.log.Entries) {
		panic(fmt.Sprintf("access: replay log exhausted before address %#x was accessed", expectedPaddr))
	}
	e := &r.log.Entries[r.cursor]
	r.cursor++
	if e.Paddr != expectedPaddr {
		panic(fmt.Sprintf("access: replay log entry %d is for address %#x, instruction expected %#x", r.cursor-1, e.Paddr, expectedPaddr))
	}
	oldRoot, err := merkle.FoldProof(e.Paddr, merkle.LeafLog2Size, merkle.LeafHash(wordBytes(e.OldWord)), e.Siblings)
	if err != nil {
		panic(fmt.Sprintf("access: replay log entry %d: %v", r.cursor-1, err))
	}
	if oldRoot != r.root {
		panic(fmt.Sprintf("access: replay log entry %d does not chain from the previous root", r.cursor-1))
	}
	if e.Type == WriteAccess {
		newRoot, err := merkle.FoldProof(e.Paddr, merkle.LeafLog2Size, merkle.LeafHash(wordBytes(e.NewWord)), e.Siblings)
		if err != nil {
			panic(fmt.Sprintf("access: replay log entry %d: %v", r.cursor-1, err))
		}
		r.root = newRoot
	}
	return e
}

func (r *Replay) genericRead(paddr uint64) uint64 {
	return r.next(paddr).OldWord
}

func (r *Replay) genericWrite(paddr uint64, val uint64) {
	e := r.next(paddr)
	if e.NewWord != val {
		panic(fmt.Sprintf("access: replay log entry for %#x records write of %#x, instruction wrote %#x", paddr, e.NewWord, val))
	}
}

func (r *Replay) genericReadMem(paddr uint64, log2Size int) uint64 {
	size := 1 << uint(log2Size)
	wordAddr := paddr &^ 7
	subOff := int(paddr - wordAddr)
	return extractWord(r.genericRead(wordAddr), subOff, size)
}

func (r *Replay) genericWriteMem(paddr uint64, log2Size int, val uint64) {
	size := 1 << uint(log2Size)
	wordAddr := paddr &^ 7
	subOff := int(paddr - wordAddr)
	e := r.next(wordAddr)
	want := spliceWord(e.OldWord, subOff, size, val)
	if e.NewWord != want {
		panic(fmt.Sprintf("access: replay log entry for %#x records word %#x, instruction produced %#x", wordAddr, e.NewWord, want))
	}
}

func (r *Replay) shadowAddr(off int) uint64 { return ShadowBase + uint64(off) }

func (r *Replay) ReadX(reg int) uint64 {
	if reg == 0 {
		return 0
	}
	return r.genericRead(r.shadowAddr(shadowXBase + reg*8))
}

func (r *Replay) WriteX(reg int, val uint64) {
	if reg == 0 {
		return
	}
	r.genericWrite(r.shadowAddr(shadowXBase+reg*8), val)
}

func (r *Replay) ReadPC() uint64      { return r.genericRead(r.shadowAddr(shadowPC)) }
func (r *Replay) WritePC(val uint64) { r.genericWrite(r.shadowAddr(shadowPC), val) }

func (r *Replay) ReadMinstret() uint64     { return r.genericRead(r.shadowAddr(shadowMinstret)) }
func (r *Replay) WriteMinstret(v uint64)   { r.genericWrite(r.shadowAddr(shadowMinstret), v) }
func (r *Replay) ReadMcycle() uint64       { return r.genericRead(r.shadowAddr(shadowMcycle)) }
func (r *Replay) WriteMcycle(v uint64)     { r.genericWrite(r.shadowAddr(shadowMcycle), v) }
func (r *Replay) ReadMvendorid() uint64    { return r.genericRead(r.shadowAddr(shadowMvendorid)) }
func (r *Replay) ReadMarchid() uint64      { return r.genericRead(r.shadowAddr(shadowMarchid)) }
func (r *Replay) ReadMimpid() uint64       { return r.genericRead(r.shadowAddr(shadowMimpid)) }
func (r *Replay) ReadMstatus() uint64      { return r.genericRead(r.shadowAddr(shadowMstatus)) }
func (r *Replay) WriteMstatus(v uint64)    { r.genericWrite(r.shadowAddr(shadowMstatus), v) }
func (r *Replay) ReadMtvec() uint64        { return r.genericRead(r.shadowAddr(shadowMtvec)) }
func (r *Replay) WriteMtvec(v uint64)      { r.genericWrite(r.shadowAddr(shadowMtvec), v) }
func (r *Replay) ReadMscratch() uint64     { return r.genericRead(r.shadowAddr(shadowMscratch)) }
func (r *Replay) WriteMscratch(v uint64)   { r.genericWrite(r.shadowAddr(shadowMscratch), v) }
func (r *Replay) ReadMepc() uint64         { return r.genericRead(r.shadowAddr(shadowMepc)) }
func (r *Replay) WriteMepc(v uint64)       { r.genericWrite(r.shadowAddr(shadowMepc), v) }
func (r *Replay) ReadMcause() uint64       { return r.genericRead(r.shadowAddr(shadowMcause)) }
func (r *Replay) WriteMcause(v uint64)     { r.genericWrite(r.shadowAddr(shadowMcause), v) }
func (r *Replay) ReadMtval() uint64        { return r.genericRead(r.shadowAddr(shadowMtval)) }
func (r *Replay) WriteMtval(v uint64)      { r.genericWrite(r.shadowAddr(shadowMtval), v) }
func (r *Replay) ReadMisa() uint64         { return r.genericRead(r.shadowAddr(shadowMisa)) }
func (r *Replay) WriteMisa(v uint64)       { r.genericWrite(r.shadowAddr(shadowMisa), v) }
func (r *Replay) ReadMie() uint64          { return r.genericRead(r.shadowAddr(shadowMie)) }
func (r *Replay) WriteMie(v uint64)        { r.genericWrite(r.shadowAddr(shadowMie), v) }
func (r *Replay) ReadMip() uint64          { return r.genericRead(r.shadowAddr(shadowMip)) }
func (r *Replay) WriteMip(v uint64)        { r.genericWrite(r.shadowAddr(shadowMip), v) }
func (r *Replay) ReadMedeleg() uint64      { return r.genericRead(r.shadowAddr(shadowMedeleg)) }
func (r *Replay) WriteMedeleg(v uint64)    { r.genericWrite(r.shadowAddr(shadowMedeleg), v) }
func (r *Replay) ReadMideleg() uint64      { return r.genericRead(r.shadowAddr(shadowMideleg)) }
func (r *Replay) WriteMideleg(v uint64)    { r.genericWrite(r.shadowAddr(shadowMideleg), v) }
func (r *Replay) ReadMcounteren() uint64   { return r.genericRead(r.shadowAddr(shadowMcounteren)) }
func (r *Replay) WriteMcounteren(v uint64) { r.genericWrite(r.shadowAddr(shadowMcounteren), v) }

func (r *Replay) ReadStvec() uint64        { return r.genericRead(r.shadowAddr(shadowStvec)) }
func (r *Replay) WriteStvec(v uint64)      { r.genericWrite(r.shadowAddr(shadowStvec), v) }
func (r *Replay) ReadSscratch() uint64     { return r.genericRead(r.shadowAddr(shadowSscratch)) }
func (r *Replay) WriteSscratch(v uint64)   { r.genericWrite(r.shadowAddr(shadowSscratch), v) }
func (r *Replay) ReadSepc() uint64         { return r.genericRead(r.shadowAddr(shadowSepc)) }
func (r *Replay) WriteSepc(v uint64)       { r.genericWrite(r.shadowAddr(shadowSepc), v) }
func (r *Replay) ReadScause() uint64       { return r.genericRead(r.shadowAddr(shadowScause)) }
func (r *Replay) WriteScause(v uint64)     { r.genericWrite(r.shadowAddr(shadowScause), v) }
func (r *Replay) ReadStval() uint64        { return r.genericRead(r.shadowAddr(shadowStval)) }
func (r *Replay) WriteStval(v uint64)      { r.genericWrite(r.shadowAddr(shadowStval), v) }
func (r *Replay) ReadSatp() uint64         { return r.genericRead(r.shadowAddr(shadowSatp)) }
func (r *Replay) WriteSatp(v uint64)       { r.genericWrite(r.shadowAddr(shadowSatp), v) }
func (r *Replay) ReadScounteren() uint64   { return r.genericRead(r.shadowAddr(shadowScounteren)) }
func (r *Replay) WriteScounteren(v uint64) { r.genericWrite(r.shadowAddr(shadowScounteren), v) }

func (r *Replay) ReadIlrsc() uint64   { return r.genericRead(r.shadowAddr(shadowIlrsc)) }
func (r *Replay) WriteIlrsc(v uint64) { r.genericWrite(r.shadowAddr(shadowIlrsc), v) }

func (r *Replay) readIflags() uint64   { return r.genericRead(r.shadowAddr(shadowIflags)) }
func (r *Replay) writeIflags(v uint64) { r.genericWrite(r.shadowAddr(shadowIflags), v) }

func (r *Replay) SetIflagsH()       { r.writeIflags(r.readIflags() | iflagsHBit) }
func (r *Replay) ReadIflagsH() bool { return r.readIflags()&iflagsHBit != 0 }
func (r *Replay) SetIflagsI()       { r.writeIflags(r.readIflags() | iflagsIBit) }
func (r *Replay) ResetIflagsI()     { r.writeIflags(r.readIflags() &^ uint64(iflagsIBit)) }
func (r *Replay) ReadIflagsI() bool { return r.readIflags()&iflagsIBit != 0 }
func (r *Replay) ReadIflagsPRV() uint8 {
	return uint8(r.readIflags()>>iflagsPRVLo) & iflagsPRVMask
}
func (r *Replay) WriteIflagsPRV(val uint8) {
	cur := r.readIflags()
	cur &^= uint64(iflagsPRVMask) << iflagsPRVLo
	cur |= uint64(val&iflagsPRVMask) << iflagsPRVLo
	r.writeIflags(cur)
}

func (r *Replay) ReadClintMtimecmp() uint64   { return r.genericRead(r.shadowAddr(shadowClintMtimecmp)) }
func (r *Replay) WriteClintMtimecmp(v uint64) { r.genericWrite(r.shadowAddr(shadowClintMtimecmp), v) }
func (r *Replay) ReadHtifFromhost() uint64    { return r.genericRead(r.shadowAddr(shadowHtifFromhost)) }
func (r *Replay) WriteHtifFromhost(v uint64)  { r.genericWrite(r.shadowAddr(shadowHtifFromhost), v) }
func (r *Replay) ReadHtifTohost() uint64      { return r.genericRead(r.shadowAddr(shadowHtifTohost)) }
func (r *Replay) WriteHtifTohost(v uint64)    { r.genericWrite(r.shadowAddr(shadowHtifTohost), v) }

// ReadPMA is not part of the replayed access trace: the PMA table's shape
// is public machine configuration, not provable state, so Replay answers
// it from the same table every Logging run was configured with.
func (r *Replay) ReadPMA(i int) (start, length uint64) {
	if i < 0 || i >= len(r.log.PMAEntries) {
		return 0, 0
	}
	e := r.log.PMAEntries[i]
	return e.Start, e.Length
}

func (r *Replay) ReadMemory(paddr uint64, log2Size int) uint64 {
	return r.genericReadMem(paddr, log2Size)
}

func (r *Replay) WriteMemory(paddr uint64, log2Size int, val uint64) {
	r.genericWriteMem(paddr, log2Size, val)
}

func (r *Replay) PushBracket(BracketType, string) {}

func (r *Replay) PushNote(string) Note { return noopNote{} }
