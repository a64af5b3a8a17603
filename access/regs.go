package access

import (
	"encoding/binary"

	"github.com/go-rvm/rvm/pma"
)

// PrivU, PrivS, PrivM are the IflagsPRV privilege level encodings.
const (
	PrivU uint8 = 0
	PrivS uint8 = 1
	PrivM uint8 = 3
)

// NewShadowEntry builds the shadow-state PMA region described in shadow.go,
// reset to machine-mode with every register zero except IflagsPRV.
func NewShadowEntry(start uint64) (*pma.Entry, error) {
	e, err := pma.NewMemoryEntry(start, pma.PageSize, pma.Flags{R: true, W: true, DID: pma.DIDMemory}, nil)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(e.Data[shadowIflags:], uint64(PrivM)<<iflagsPRVLo)
	return e, nil
}

func shadowRead(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

func shadowWrite(buf []byte, off int, val uint64) {
	binary.LittleEndian.PutUint64(buf[off:], val)
}
