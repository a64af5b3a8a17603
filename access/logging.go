package access

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rvm/rvm/merkle"
)

// Logging wraps a Direct accessor with a *merkle.Tree, recording every
// access as a Log entry carrying the Merkle siblings needed to replay it
// without the live machine. This is the variant machine.Step uses to
// produce a verifiable record of one instruction's execution.
type Logging struct {
	d    *Direct
	tree *merkle.Tree
	log  *Log
}

// NewLogging starts a fresh log rooted at the tree's current root hash,
// snapshotting the PMA table's public layout for Replay's ReadPMA.
func NewLogging(d *Direct, tree *merkle.Tree) *Logging {
	log := &Log{RootHashBefore: tree.Root()}
	for _, e := range d.Table.Entries() {
		log.PMAEntries = append(log.PMAEntries, PMAEntryInfo{Start: e.Start, Length: e.Length})
	}
	return &Logging{d: d, tree: tree, log: log}
}

// Finish closes the log, stamping the tree's current root as the
// post-state root, and returns it. Call after the logged operation (a
// single Step) completes.
func (l *Logging) Finish() *Log {
	l.log.RootHashAfter = l.tree.Root()
	return l.log
}

func (l *Logging) proofAt(paddr uint64) *merkle.Proof {
	proof, err := l.tree.GetProof(paddr, merkle.LeafLog2Size)
	if err != nil {
		panic(fmt.Sprintf("access: unaligned shadow/memory word address %#x: %v", paddr, err))
	}
	return proof
}

func (l *Logging) genericRead(paddr uint64) uint64 {
	proof := l.proofAt(paddr)
	val := l.d.ReadMemory(paddr, merkle.LeafLog2Size)
	l.log.Entries = append(l.log.Entries, Entry{
		Type:     ReadAccess,
		Paddr:    paddr,
		OldWord:  val,
		Siblings: proof.Siblings,
	})
	return val
}

func (l *Logging) genericWrite(paddr uint64, val uint64) {
	proof := l.proofAt(paddr)
	old := l.d.ReadMemory(paddr, merkle.LeafLog2Size)
	l.d.WriteMemory(paddr, merkle.LeafLog2Size, val)
	l.log.Entries = append(l.log.Entries, Entry{
		Type:     WriteAccess,
		Paddr:    paddr,
		OldWord:  old,
		NewWord:  val,
		Siblings: proof.Siblings,
	})
}

// genericReadMem and genericWriteMem are the sub-word-aware counterparts
// used by ReadMemory/WriteMemory, where log2Size may be smaller than the
// Merkle leaf width: the proof and logged word are always taken at
// 8-byte granularity, with the narrower value spliced in or out.
func (l *Logging) genericReadMem(paddr uint64, log2Size int) uint64 {
	size := 1 << uint(log2Size)
	wordAddr := paddr &^ 7
	subOff := int(paddr - wordAddr)
	word := l.genericRead(wordAddr)
	return extractWord(word, subOff, size)
}

func (l *Logging) genericWriteMem(paddr uint64, log2Size int, val uint64) {
	size := 1 << uint(log2Size)
	wordAddr := paddr &^ 7
	subOff := int(paddr - wordAddr)
	proof := l.proofAt(wordAddr)
	old := l.d.ReadMemory(wordAddr, merkle.LeafLog2Size)
	newWord := spliceWord(old, subOff, size, val)
	l.d.WriteMemory(wordAddr, merkle.LeafLog2Size, newWord)
	l.log.Entries = append(l.log.Entries, Entry{
		Type:     WriteAccess,
		Paddr:    wordAddr,
		OldWord:  old,
		NewWord:  newWord,
		Siblings: proof.Siblings,
	})
}

func extractWord(word uint64, subOff, size int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	switch size {
	case 1:
		return uint64(buf[subOff])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[subOff:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[subOff:]))
	default:
		return word
	}
}

func spliceWord(old uint64, subOff, size int, val uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], old)
	switch size {
	case 1:
		buf[subOff] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(buf[subOff:], uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(buf[subOff:], uint32(val))
	default:
		return val
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (l *Logging) shadowAddr(off int) uint64 { return l.d.Shadow.Start + uint64(off) }

func (l *Logging) ReadX(reg int) uint64 {
	if reg == 0 {
		return 0
	}
	return l.genericRead(l.shadowAddr(shadowXBase + reg*8))
}

func (l *Logging) WriteX(reg int, val uint64) {
	if reg == 0 {
		return
	}
	l.genericWrite(l.shadowAddr(shadowXBase+reg*8), val)
}

func (l *Logging) ReadPC() uint64      { return l.genericRead(l.shadowAddr(shadowPC)) }
func (l *Logging) WritePC(val uint64) { l.genericWrite(l.shadowAddr(shadowPC), val) }

func (l *Logging) ReadMinstret() uint64     { return l.genericRead(l.shadowAddr(shadowMinstret)) }
func (l *Logging) WriteMinstret(v uint64)   { l.genericWrite(l.shadowAddr(shadowMinstret), v) }
func (l *Logging) ReadMcycle() uint64       { return l.genericRead(l.shadowAddr(shadowMcycle)) }
func (l *Logging) WriteMcycle(v uint64)     { l.genericWrite(l.shadowAddr(shadowMcycle), v) }
func (l *Logging) ReadMvendorid() uint64    { return l.genericRead(l.shadowAddr(shadowMvendorid)) }
func (l *Logging) ReadMarchid() uint64      { return l.genericRead(l.shadowAddr(shadowMarchid)) }
func (l *Logging) ReadMimpid() uint64       { return l.genericRead(l.shadowAddr(shadowMimpid)) }
func (l *Logging) ReadMstatus() uint64      { return l.genericRead(l.shadowAddr(shadowMstatus)) }
func (l *Logging) WriteMstatus(v uint64)    { l.genericWrite(l.shadowAddr(shadowMstatus), v) }
func (l *Logging) ReadMtvec() uint64        { return l.genericRead(l.shadowAddr(shadowMtvec)) }
func (l *Logging) WriteMtvec(v uint64)      { l.genericWrite(l.shadowAddr(shadowMtvec), v) }
func (l *Logging) ReadMscratch() uint64     { return l.genericRead(l.shadowAddr(shadowMscratch)) }
func (l *Logging) WriteMscratch(v uint64)   { l.genericWrite(l.shadowAddr(shadowMscratch), v) }
func (l *Logging) ReadMepc() uint64         { return l.genericRead(l.shadowAddr(shadowMepc)) }
func (l *Logging) WriteMepc(v uint64)       { l.genericWrite(l.shadowAddr(shadowMepc), v) }
func (l *Logging) ReadMcause() uint64       { return l.genericRead(l.shadowAddr(shadowMcause)) }
func (l *Logging) WriteMcause(v uint64)     { l.genericWrite(l.shadowAddr(shadowMcause), v) }
func (l *Logging) ReadMtval() uint64        { return l.genericRead(l.shadowAddr(shadowMtval)) }
func (l *Logging) WriteMtval(v uint64)      { l.genericWrite(l.shadowAddr(shadowMtval), v) }
func (l *Logging) ReadMisa() uint64         { return l.genericRead(l.shadowAddr(shadowMisa)) }
func (l *Logging) WriteMisa(v uint64)       { l.genericWrite(l.shadowAddr(shadowMisa), v) }
func (l *Logging) ReadMie() uint64          { return l.genericRead(l.shadowAddr(shadowMie)) }
func (l *Logging) WriteMie(v uint64)        { l.genericWrite(l.shadowAddr(shadowMie), v) }
func (l *Logging) ReadMip() uint64          { return l.genericRead(l.shadowAddr(shadowMip)) }
func (l *Logging) WriteMip(v uint64)        { l.genericWrite(l.shadowAddr(shadowMip), v) }
func (l *Logging) ReadMedeleg() uint64      { return l.genericRead(l.shadowAddr(shadowMedeleg)) }
func (l *Logging) WriteMedeleg(v uint64)    { l.genericWrite(l.shadowAddr(shadowMedeleg), v) }
func (l *Logging) ReadMideleg() uint64      { return l.genericRead(l.shadowAddr(shadowMideleg)) }
func (l *Logging) WriteMideleg(v uint64)    { l.genericWrite(l.shadowAddr(shadowMideleg), v) }
func (l *Logging) ReadMcounteren() uint64   { return l.genericRead(l.shadowAddr(shadowMcounteren)) }
func (l *Logging) WriteMcounteren(v uint64) { l.genericWrite(l.shadowAddr(shadowMcounteren), v) }

func (l *Logging) ReadStvec() uint64        { return l.genericRead(l.shadowAddr(shadowStvec)) }
func (l *Logging) WriteStvec(v uint64)      { l.genericWrite(l.shadowAddr(shadowStvec), v) }
func (l *Logging) ReadSscratch() uint64     { return l.genericRead(l.shadowAddr(shadowSscratch)) }
func (l *Logging) WriteSscratch(v uint64)   { l.genericWrite(l.shadowAddr(shadowSscratch), v) }
func (l *Logging) ReadSepc() uint64         { return l.genericRead(l.shadowAddr(shadowSepc)) }
func (l *Logging) WriteSepc(v uint64)       { l.genericWrite(l.shadowAddr(shadowSepc), v) }
func (l *Logging) ReadScause() uint64       { return l.genericRead(l.shadowAddr(shadowScause)) }
func (l *Logging) WriteScause(v uint64)     { l.genericWrite(l.shadowAddr(shadowScause), v) }
func (l *Logging) ReadStval() uint64        { return l.genericRead(l.shadowAddr(shadowStval)) }
func (l *Logging) WriteStval(v uint64)      { l.genericWrite(l.shadowAddr(shadowStval), v) }
func (l *Logging) ReadSatp() uint64         { return l.genericRead(l.shadowAddr(shadowSatp)) }
func (l *Logging) WriteSatp(v uint64)       { l.genericWrite(l.shadowAddr(shadowSatp), v) }
func (l *Logging) ReadScounteren() uint64   { return l.genericRead(l.shadowAddr(shadowScounteren)) }
func (l *Logging) WriteScounteren(v uint64) { l.genericWrite(l.shadowAddr(shadowScounteren), v) }

func (l *Logging) ReadIlrsc() uint64   { return l.genericRead(l.shadowAddr(shadowIlrsc)) }
func (l *Logging) WriteIlrsc(v uint64) { l.genericWrite(l.shadowAddr(shadowIlrsc), v) }

func (l *Logging) readIflags() uint64  { return l.genericRead(l.shadowAddr(shadowIflags)) }
func (l *Logging) writeIflags(v uint64) { l.genericWrite(l.shadowAddr(shadowIflags), v) }

func (l *Logging) SetIflagsH()       { l.writeIflags(l.readIflags() | iflagsHBit) }
func (l *Logging) ReadIflagsH() bool { return l.readIflags()&iflagsHBit != 0 }
func (l *Logging) SetIflagsI()       { l.writeIflags(l.readIflags() | iflagsIBit) }
func (l *Logging) ResetIflagsI()     { l.writeIflags(l.readIflags() &^ uint64(iflagsIBit)) }
func (l *Logging) ReadIflagsI() bool { return l.readIflags()&iflagsIBit != 0 }
func (l *Logging) ReadIflagsPRV() uint8 {
	return uint8(l.readIflags()>>iflagsPRVLo) & iflagsPRVMask
}
func (l *Logging) WriteIflagsPRV(val uint8) {
	cur := l.readIflags()
	cur &^= uint64(iflagsPRVMask) << iflagsPRVLo
	cur |= uint64(val&iflagsPRVMask) << iflagsPRVLo
	l.writeIflags(cur)
}

func (l *Logging) ReadClintMtimecmp() uint64   { return l.genericRead(l.shadowAddr(shadowClintMtimecmp)) }
func (l *Logging) WriteClintMtimecmp(v uint64) { l.genericWrite(l.shadowAddr(shadowClintMtimecmp), v) }
func (l *Logging) ReadHtifFromhost() uint64    { return l.genericRead(l.shadowAddr(shadowHtifFromhost)) }
func (l *Logging) WriteHtifFromhost(v uint64)  { l.genericWrite(l.shadowAddr(shadowHtifFromhost), v) }
func (l *Logging) ReadHtifTohost() uint64      { return l.genericRead(l.shadowAddr(shadowHtifTohost)) }
func (l *Logging) WriteHtifTohost(v uint64)    { l.genericWrite(l.shadowAddr(shadowHtifTohost), v) }

func (l *Logging) ReadPMA(i int) (start, length uint64) { return l.d.ReadPMA(i) }

func (l *Logging) ReadMemory(paddr uint64, log2Size int) uint64 {
	return l.genericReadMem(paddr, log2Size)
}

func (l *Logging) WriteMemory(paddr uint64, log2Size int, val uint64) {
	l.genericWriteMem(paddr, log2Size, val)
}

func (l *Logging) PushBracket(kind BracketType, text string) {
	l.log.Annotations = append(l.log.Annotations, Annotation{Kind: kind, Text: text, AfterEntry: len(l.log.Entries)})
}

type loggingNote struct {
	l    *Logging
	text string
}

func (n loggingNote) Close() {
	n.l.PushBracket(BracketEnd, n.text)
}

func (l *Logging) PushNote(text string) Note {
	l.PushBracket(BracketBegin, text)
	return loggingNote{l: l, text: text}
}
