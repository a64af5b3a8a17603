// Package loader turns a config.MachineConfig - a TOML manifest of paths
// and sizes - into a running machine.Machine: it reads RAM/ROM/flash
// images off disk, mmaps file-backed shared flash drives, and hands the
// assembled machine.Config to machine.New.
package loader

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/go-rvm/rvm/config"
	"github.com/go-rvm/rvm/machine"
	"github.com/go-rvm/rvm/pma"
)

// LoadedMachine is a machine.Machine plus the mmap'd shared flash regions
// loader opened for it. Callers must call Close when done so a shared
// drive's dirty pages are flushed and its mapping released: acquired at
// construction, released at destruction, with a final flush.
type LoadedMachine struct {
	*machine.Machine
	mappings [][]byte
}

// Close flushes and unmaps every shared flash drive opened by Load. The
// first error encountered is returned; Close still attempts every
// mapping.
func (lm *LoadedMachine) Close() error {
	var firstErr error
	for _, data := range lm.mappings {
		if err := unix.Msync(data, unix.MS_SYNC); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flushing shared flash mapping: %w", err)
		}
		if err := unix.Munmap(data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unmapping shared flash mapping: %w", err)
		}
	}
	lm.mappings = nil
	return firstErr
}

// Load reads mc's images off disk and constructs a running machine.
func Load(mc *config.MachineConfig) (*LoadedMachine, error) {
	ramImage, err := readImage(mc.RAM.Image, mc.RAM.Length)
	if err != nil {
		return nil, err
	}

	var romImage []byte
	if mc.ROM.Length > 0 {
		romImage, err = readImage(mc.ROM.Image, mc.ROM.Length)
		if err != nil {
			return nil, err
		}
	}

	lm := &LoadedMachine{}
	flashDrives := make([]machine.FlashConfig, 0, len(mc.Flash))
	for _, f := range mc.Flash {
		length := align(f.Length)
		if f.Shared {
			if f.Image == "" {
				lm.Close()
				return nil, fmt.Errorf("loader: shared flash drive at %#x has no backing file", f.Start)
			}
			data, err := mmapFile(f.Image, length)
			if err != nil {
				lm.Close()
				return nil, fmt.Errorf("mapping shared flash %q: %w", f.Image, err)
			}
			lm.mappings = append(lm.mappings, data)
			flashDrives = append(flashDrives, machine.FlashConfig{
				Start: f.Start, Length: length, Shared: true, Image: data, Path: f.Image,
			})
			continue
		}

		image, err := readImage(f.Image, length)
		if err != nil {
			lm.Close()
			return nil, err
		}
		flashDrives = append(flashDrives, machine.FlashConfig{
			Start: f.Start, Length: length, Shared: false, Image: image, Path: f.Image,
		})
	}

	cfg := machine.Config{
		RAMLength:       mc.RAM.Length,
		RAMImage:        ramImage,
		ROMLength:       mc.ROM.Length,
		ROMImage:        romImage,
		ROMBootargs:     mc.ROM.Bootargs,
		FlashDrives:     flashDrives,
		InitialPC:       mc.CSR.PC,
		InitialMisa:     mc.CSR.Misa,
		InitialMtimecmp: mc.CSR.Mtimecmp,
		InitialTohost:   mc.CSR.Tohost,
		InitialFromhost: mc.CSR.Fromhost,
		Interactive:     mc.Interactive,
	}

	m, err := machine.New(cfg)
	if err != nil {
		lm.Close()
		return nil, err
	}
	lm.Machine = m
	return lm, nil
}

// readImage reads path into a buffer no larger than length, leaving the
// caller's zero-fill (via pma.NewMemoryEntry's copy-into-zeroed-buffer)
// to cover the remainder. An empty path yields a nil image.
func readImage(path string, length uint64) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied image path
	if err != nil {
		return nil, fmt.Errorf("reading image %q: %w", path, err)
	}
	if uint64(len(data)) > length {
		return nil, fmt.Errorf("image %q is %d bytes, exceeds configured length %d", path, len(data), length)
	}
	return data, nil
}

// mmapFile opens (creating if necessary) and memory-maps path at exactly
// length bytes, growing the file as needed.
func mmapFile(path string, length uint64) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640) // #nosec G304 -- operator-supplied image path
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if uint64(info.Size()) < length {
		if err := f.Truncate(int64(length)); err != nil {
			return nil, err
		}
	}

	return unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func align(length uint64) uint64 {
	if r := length % pma.PageSize; r != 0 {
		length += pma.PageSize - r
	}
	return length
}
