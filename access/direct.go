package access

import (
	"github.com/go-rvm/rvm/bits"
	"github.com/go-rvm/rvm/pma"
)

// Direct is the fast, unlogged State implementation used for normal
// execution. It forwards every access straight to the shadow PMA region
// described in shadow.go with no bookkeeping, so a CSR write marks the
// same kind of dirty bit a RAM write would.
type Direct struct {
	Shadow *pma.Entry
	Table  *pma.Table
}

// NewDirect builds a Direct state accessor. shadow must be an entry
// created by NewShadowEntry and already present in table.
func NewDirect(shadow *pma.Entry, table *pma.Table) *Direct {
	return &Direct{Shadow: shadow, Table: table}
}

func (d *Direct) get(off int) uint64        { return shadowRead(d.Shadow.Data, off) }
func (d *Direct) set(off int, val uint64) {
	shadowWrite(d.Shadow.Data, off, val)
	d.Shadow.MarkDirty(uint64(off))
}

func (d *Direct) ReadX(reg int) uint64 {
	if reg == 0 {
		return 0
	}
	return d.get(shadowXBase + reg*8)
}

func (d *Direct) WriteX(reg int, val uint64) {
	if reg == 0 {
		return
	}
	d.set(shadowXBase+reg*8, val)
}

func (d *Direct) ReadPC() uint64      { return d.get(shadowPC) }
func (d *Direct) WritePC(val uint64) { d.set(shadowPC, val) }

func (d *Direct) ReadMinstret() uint64     { return d.get(shadowMinstret) }
func (d *Direct) WriteMinstret(val uint64) { d.set(shadowMinstret, val) }
func (d *Direct) ReadMcycle() uint64       { return d.get(shadowMcycle) }
func (d *Direct) WriteMcycle(val uint64)   { d.set(shadowMcycle, val) }

func (d *Direct) ReadMvendorid() uint64 { return d.get(shadowMvendorid) }
func (d *Direct) ReadMarchid() uint64   { return d.get(shadowMarchid) }
func (d *Direct) ReadMimpid() uint64    { return d.get(shadowMimpid) }

func (d *Direct) ReadMstatus() uint64      { return d.get(shadowMstatus) }
func (d *Direct) WriteMstatus(v uint64)    { d.set(shadowMstatus, v) }
func (d *Direct) ReadMtvec() uint64        { return d.get(shadowMtvec) }
func (d *Direct) WriteMtvec(v uint64)      { d.set(shadowMtvec, v) }
func (d *Direct) ReadMscratch() uint64     { return d.get(shadowMscratch) }
func (d *Direct) WriteMscratch(v uint64)   { d.set(shadowMscratch, v) }
func (d *Direct) ReadMepc() uint64         { return d.get(shadowMepc) }
func (d *Direct) WriteMepc(v uint64)       { d.set(shadowMepc, v) }
func (d *Direct) ReadMcause() uint64       { return d.get(shadowMcause) }
func (d *Direct) WriteMcause(v uint64)     { d.set(shadowMcause, v) }
func (d *Direct) ReadMtval() uint64        { return d.get(shadowMtval) }
func (d *Direct) WriteMtval(v uint64)      { d.set(shadowMtval, v) }
func (d *Direct) ReadMisa() uint64         { return d.get(shadowMisa) }
func (d *Direct) WriteMisa(v uint64)       { d.set(shadowMisa, v) }
func (d *Direct) ReadMie() uint64          { return d.get(shadowMie) }
func (d *Direct) WriteMie(v uint64)        { d.set(shadowMie, v) }
func (d *Direct) ReadMip() uint64          { return d.get(shadowMip) }
func (d *Direct) WriteMip(v uint64)        { d.set(shadowMip, v) }
func (d *Direct) ReadMedeleg() uint64      { return d.get(shadowMedeleg) }
func (d *Direct) WriteMedeleg(v uint64)    { d.set(shadowMedeleg, v) }
func (d *Direct) ReadMideleg() uint64      { return d.get(shadowMideleg) }
func (d *Direct) WriteMideleg(v uint64)    { d.set(shadowMideleg, v) }
func (d *Direct) ReadMcounteren() uint64   { return d.get(shadowMcounteren) }
func (d *Direct) WriteMcounteren(v uint64) { d.set(shadowMcounteren, v) }

func (d *Direct) ReadStvec() uint64        { return d.get(shadowStvec) }
func (d *Direct) WriteStvec(v uint64)      { d.set(shadowStvec, v) }
func (d *Direct) ReadSscratch() uint64     { return d.get(shadowSscratch) }
func (d *Direct) WriteSscratch(v uint64)   { d.set(shadowSscratch, v) }
func (d *Direct) ReadSepc() uint64         { return d.get(shadowSepc) }
func (d *Direct) WriteSepc(v uint64)       { d.set(shadowSepc, v) }
func (d *Direct) ReadScause() uint64       { return d.get(shadowScause) }
func (d *Direct) WriteScause(v uint64)     { d.set(shadowScause, v) }
func (d *Direct) ReadStval() uint64        { return d.get(shadowStval) }
func (d *Direct) WriteStval(v uint64)      { d.set(shadowStval, v) }
func (d *Direct) ReadSatp() uint64         { return d.get(shadowSatp) }
func (d *Direct) WriteSatp(v uint64)       { d.set(shadowSatp, v) }
func (d *Direct) ReadScounteren() uint64   { return d.get(shadowScounteren) }
func (d *Direct) WriteScounteren(v uint64) { d.set(shadowScounteren, v) }

func (d *Direct) ReadIlrsc() uint64   { return d.get(shadowIlrsc) }
func (d *Direct) WriteIlrsc(v uint64) { d.set(shadowIlrsc, v) }

func (d *Direct) SetIflagsH() { d.set(shadowIflags, d.get(shadowIflags)|iflagsHBit) }
func (d *Direct) ReadIflagsH() bool {
	return d.get(shadowIflags)&iflagsHBit != 0
}
func (d *Direct) SetIflagsI()   { d.set(shadowIflags, d.get(shadowIflags)|iflagsIBit) }
func (d *Direct) ResetIflagsI() { d.set(shadowIflags, d.get(shadowIflags)&^uint64(iflagsIBit)) }
func (d *Direct) ReadIflagsI() bool {
	return d.get(shadowIflags)&iflagsIBit != 0
}
func (d *Direct) ReadIflagsPRV() uint8 {
	return uint8(d.get(shadowIflags)>>iflagsPRVLo) & iflagsPRVMask
}
func (d *Direct) WriteIflagsPRV(val uint8) {
	cur := d.get(shadowIflags)
	cur &^= uint64(iflagsPRVMask) << iflagsPRVLo
	cur |= uint64(val&iflagsPRVMask) << iflagsPRVLo
	d.set(shadowIflags, cur)
}

func (d *Direct) ReadClintMtimecmp() uint64   { return d.get(shadowClintMtimecmp) }
func (d *Direct) WriteClintMtimecmp(v uint64) { d.set(shadowClintMtimecmp, v) }
func (d *Direct) ReadHtifFromhost() uint64    { return d.get(shadowHtifFromhost) }
func (d *Direct) WriteHtifFromhost(v uint64)  { d.set(shadowHtifFromhost, v) }
func (d *Direct) ReadHtifTohost() uint64      { return d.get(shadowHtifTohost) }
func (d *Direct) WriteHtifTohost(v uint64)    { d.set(shadowHtifTohost, v) }

func (d *Direct) ReadPMA(i int) (start, length uint64) {
	entries := d.Table.Entries()
	if i < 0 || i >= len(entries) {
		return 0, 0
	}
	return entries[i].Start, entries[i].Length
}

func (d *Direct) ReadMemory(paddr uint64, log2Size int) uint64 {
	size := bits.SizeFromLog2(log2Size)
	e := d.Table.Resolve(paddr, size)
	if e.IsSentinel() {
		return 0
	}
	if !e.IsMemory() {
		if e.Drv != nil && e.Drv.Read != nil {
			if val, ok := e.Drv.Read(paddr-e.Start, size); ok {
				return val
			}
		}
		return 0
	}
	return bits.ReadWord(e.Data, paddr-e.Start, size)
}

func (d *Direct) WriteMemory(paddr uint64, log2Size int, val uint64) {
	size := bits.SizeFromLog2(log2Size)
	e := d.Table.Resolve(paddr, size)
	if e.IsSentinel() {
		return
	}
	if !e.IsMemory() {
		if e.Drv != nil && e.Drv.Write != nil {
			e.Drv.Write(paddr-e.Start, size, val)
		}
		return
	}
	off := paddr - e.Start
	bits.WriteWord(e.Data, off, size, val)
	e.MarkDirty(off)
}

func (d *Direct) PushBracket(BracketType, string) {}

type noopNote struct{}

func (noopNote) Close() {}

func (d *Direct) PushNote(string) Note { return noopNote{} }
