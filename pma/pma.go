// Package pma implements the Physical Memory Attribute table: the ordered,
// disjoint map of physical address ranges to memory, device, or sentinel
// regions that every other core component resolves addresses against.
package pma

import "fmt"

// PageSize is the granularity of the dirty-page bitmap and of device peek
// callbacks. Must divide every memory region's length.
const PageSize = 1 << 12

// DID identifies the kind of a PMA entry, drawn from a closed set.
type DID int

const (
	DIDMemory DID = iota
	DIDFlash
	DIDROM
	DIDTimer
	DIDHTIF
	DIDDehash
	DIDSentinel
)

func (d DID) String() string {
	switch d {
	case DIDMemory:
		return "RAM"
	case DIDFlash:
		return "flash"
	case DIDROM:
		return "ROM"
	case DIDTimer:
		return "timer"
	case DIDHTIF:
		return "htif"
	case DIDDehash:
		return "dehash"
	case DIDSentinel:
		return "sentinel"
	default:
		return "unknown"
	}
}

// Flags carries the permission and accounting bits of a PMA entry.
type Flags struct {
	R, W, X bool // guest-visible read/write/execute permission
	IR, IW  bool // idempotent read/write (cacheable; no device side effect)
	DID     DID
}

// Driver is the callback triple a device-backed region exposes. Offset is
// relative to the region's start. Read/Write report whether the access was
// handled; size is the byte width (1, 2, 4, or 8).
type Driver struct {
	Name  string
	Read  func(offset uint64, size int) (val uint64, ok bool)
	Write func(offset uint64, size int, val uint64) (ok bool)

	// Peek returns a pristine-or-not page image for the Merkle tree. data
	// is nil when the page is pristine (all zero); scratch is a
	// caller-owned PageSize buffer the driver may fill and return.
	Peek func(pageOffset uint64, scratch []byte) (data []byte, ok bool)
}

// Entry is a single row of the PMA table.
type Entry struct {
	Start  uint64
	Length uint64 // zero marks the sentinel
	Flags  Flags

	// Memory regions carry a host-backed byte slice and a per-page dirty
	// bitmap; device regions carry a Driver. Exactly one is non-nil for a
	// non-sentinel entry.
	Data  []byte
	Dirty []bool // len(Dirty) == Length/PageSize
	Drv   *Driver
}

// IsSentinel reports whether e is the PMA table's terminating entry.
func (e *Entry) IsSentinel() bool {
	return e.Length == 0
}

// IsMemory reports whether e is backed by a host byte slice.
func (e *Entry) IsMemory() bool {
	return e.Drv == nil && !e.IsSentinel()
}

// MarkDirty flags the page containing the byte at the region-relative
// offset as dirty.
func (e *Entry) MarkDirty(offset uint64) {
	if e.Dirty == nil {
		return
	}
	page := offset / PageSize
	if int(page) < len(e.Dirty) {
		e.Dirty[page] = true
	}
}

// PageData returns a view of page index `page`, or nil if the page is
// pristine (memory regions only; never called for device regions, which
// use Driver.Peek instead).
func (e *Entry) PageData(page uint64) []byte {
	off := page * PageSize
	if off >= uint64(len(e.Data)) {
		return nil
	}
	end := off + PageSize
	if end > uint64(len(e.Data)) {
		end = uint64(len(e.Data))
	}
	return e.Data[off:end]
}

// NewMemoryEntry builds a host-backed memory region. length must be a
// multiple of PageSize.
func NewMemoryEntry(start, length uint64, f Flags, initial []byte) (*Entry, error) {
	if length == 0 || length%PageSize != 0 {
		return nil, fmt.Errorf("pma: length %d must be a non-zero multiple of page size %d", length, PageSize)
	}
	data := make([]byte, length)
	copy(data, initial)
	return &Entry{
		Start:  start,
		Length: length,
		Flags:  f,
		Data:   data,
		Dirty:  make([]bool, length/PageSize),
	}, nil
}

// NewMemoryEntryFromBuffer builds a memory region backed directly by buf,
// with no copy. Used for mmap-backed shared flash drives: a guest write
// lands straight in the mapped file, so a caller-driven msync is enough
// to flush it, with no separate writeback step needed.
func NewMemoryEntryFromBuffer(start uint64, f Flags, buf []byte) (*Entry, error) {
	length := uint64(len(buf))
	if length == 0 || length%PageSize != 0 {
		return nil, fmt.Errorf("pma: buffer length %d must be a non-zero multiple of page size %d", length, PageSize)
	}
	return &Entry{
		Start:  start,
		Length: length,
		Flags:  f,
		Data:   buf,
		Dirty:  make([]bool, length/PageSize),
	}, nil
}

// NewDeviceEntry builds a device-backed region.
func NewDeviceEntry(start, length uint64, f Flags, drv *Driver) (*Entry, error) {
	if length == 0 || length%PageSize != 0 {
		return nil, fmt.Errorf("pma: length %d must be a non-zero multiple of page size %d", length, PageSize)
	}
	return &Entry{Start: start, Length: length, Flags: f, Drv: drv}, nil
}

// Table is the ordered, sentinel-terminated sequence of PMA entries.
type Table struct {
	entries []*Entry
}

// NewTable builds a table from entries sorted by Start, appending the
// sentinel automatically. Returns an error if ranges overlap or are not
// sorted.
func NewTable(entries []*Entry) (*Table, error) {
	sorted := append([]*Entry(nil), entries...)
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		cur := sorted[i]
		if cur.Start < prev.Start {
			return nil, fmt.Errorf("pma: entries must be sorted by start address")
		}
		if prev.Start+prev.Length > cur.Start {
			return nil, fmt.Errorf("pma: ranges [%#x,%#x) and [%#x,%#x) overlap", prev.Start, prev.Start+prev.Length, cur.Start, cur.Start+cur.Length)
		}
	}
	sorted = append(sorted, &Entry{Length: 0, Flags: Flags{DID: DIDSentinel}})
	return &Table{entries: sorted}, nil
}

// Entries returns the table's entries, including the trailing sentinel.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// Resolve returns the entry whose range contains [paddr, paddr+size), or
// the sentinel if no such entry exists. The comparison is phrased to
// avoid 64-bit address overflow:
// paddr >= start && paddr - start <= length - size.
func (t *Table) Resolve(paddr uint64, size int) *Entry {
	sz := uint64(size)
	for _, e := range t.entries {
		if e.IsSentinel() {
			return e
		}
		if paddr >= e.Start && paddr-e.Start <= e.Length-sz {
			return e
		}
	}
	// unreachable: the sentinel always terminates the loop above.
	return &Entry{Length: 0, Flags: Flags{DID: DIDSentinel}}
}

// Add inserts a new entry, keeping the table sorted, and re-validates
// disjointness.
func (t *Table) Add(e *Entry) error {
	entries := t.entries[:len(t.entries)-1] // drop sentinel
	i := 0
	for i < len(entries) && entries[i].Start < e.Start {
		i++
	}
	merged := append(append([]*Entry(nil), entries[:i]...), e)
	merged = append(merged, entries[i:]...)
	tbl, err := NewTable(merged)
	if err != nil {
		return err
	}
	t.entries = tbl.entries
	return nil
}

// Replace swaps the backing of the memory entry covering [start, start+length)
// for newData, used by ReplaceFlashDrive.
func (t *Table) Replace(start, length uint64, newData []byte) error {
	for _, e := range t.entries {
		if e.Start == start && e.Length == length && e.IsMemory() {
			data := make([]byte, length)
			copy(data, newData)
			e.Data = data
			for i := range e.Dirty {
				e.Dirty[i] = true
			}
			return nil
		}
	}
	return fmt.Errorf("pma: no memory entry at [%#x,%#x) to replace", start, start+length)
}
