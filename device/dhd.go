package device

import (
	"encoding/binary"

	"github.com/go-rvm/rvm/merkle"
	"github.com/go-rvm/rvm/pma"
)

// DHD is the dehash device, an oracle device kept alongside HTIF and
// CLINT for completeness even though nothing in the base machine
// operations requires it. A DHD lets the guest resolve a Merkle-style
// hash to its
// preimage, which is how a Cartesi-style machine pulls externally-provided
// data (a merkle-proved input) into its address space without growing the
// Merkle tree to hold it directly.
//
// Register layout within the device's PMA region (each slot 8 bytes):
//
//	0..24   the 32-byte hash being requested (4 little-endian words)
//	32      requested max length
//	40      control: guest writes 1 to trigger a lookup
//	48      status: length actually resolved, 0 if the hash is unknown
//	64..    the resolved preimage, up to pma.PageSize-64 bytes
type DHD struct {
	oracle map[merkle.Hash][]byte

	hash   [32]byte
	length uint64
	result []byte
}

// NewDHD builds an empty oracle; Register adds known preimages.
func NewDHD() *DHD {
	return &DHD{oracle: make(map[merkle.Hash][]byte)}
}

// Register makes hash resolve to preimage on a future dehash request.
func (d *DHD) Register(hash merkle.Hash, preimage []byte) {
	d.oracle[hash] = append([]byte(nil), preimage...)
}

const (
	dhdHashOff   = 0
	dhdLengthOff = 32
	dhdCtrlOff   = 40
	dhdStatusOff = 48
	dhdDataOff   = 64
)

func (d *DHD) resolve() {
	got, ok := d.oracle[merkle.Hash(d.hash)]
	if !ok {
		d.result = nil
		return
	}
	n := d.length
	if n > uint64(len(got)) {
		n = uint64(len(got))
	}
	d.result = got[:n]
}

// NewDriver wraps d as a pma.Driver implementing the register layout
// above.
func (d *DHD) NewDriver() *pma.Driver {
	return &pma.Driver{
		Name: "dhd",
		Read: func(offset uint64, size int) (uint64, bool) {
			switch {
			case offset == dhdStatusOff:
				return uint64(len(d.result)), true
			case offset >= dhdDataOff:
				idx := offset - dhdDataOff
				if int(idx) >= len(d.result) {
					return 0, true
				}
				end := idx + uint64(size)
				if end > uint64(len(d.result)) {
					end = uint64(len(d.result))
				}
				var buf [8]byte
				copy(buf[:], d.result[idx:end])
				return binary.LittleEndian.Uint64(buf[:]), true
			default:
				return 0, false
			}
		},
		Write: func(offset uint64, size int, val uint64) bool {
			switch {
			case offset < dhdLengthOff:
				binary.LittleEndian.PutUint64(d.hash[offset:], val)
				return true
			case offset == dhdLengthOff:
				d.length = val
				return true
			case offset == dhdCtrlOff:
				if val&1 != 0 {
					d.resolve()
				}
				return true
			default:
				return false
			}
		},
		Peek: func(pageOffset uint64, scratch []byte) ([]byte, bool) {
			if pageOffset != 0 {
				return nil, true
			}
			if len(d.result) == 0 {
				return nil, true
			}
			for i := range scratch {
				scratch[i] = 0
			}
			binary.LittleEndian.PutUint64(scratch[dhdStatusOff:], uint64(len(d.result)))
			copy(scratch[dhdDataOff:], d.result)
			return scratch, true
		},
	}
}
