package machine

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/go-rvm/rvm/pma"
)

// manifest is the configuration manifest Store writes alongside the raw
// memory dumps: enough of Config, plus the live register/CSR state at the
// moment of Store, to reconstruct a Machine whose root hash matches
// exactly.
type manifest struct {
	RAMLength   uint64
	ROMLength   uint64
	ROMBootargs string
	Flash       []flashManifest

	InitialPC       uint64
	InitialMisa     uint64
	InitialMtimecmp uint64
	InitialTohost   uint64
	InitialFromhost uint64
	Interactive     bool

	PC       uint64
	X        [32]uint64
	Mstatus  uint64
	Mtvec    uint64
	Mscratch uint64
	Mepc     uint64
	Mcause   uint64
	Mtval    uint64
	Misa     uint64
	Mie      uint64
	Mip      uint64
	Medeleg  uint64
	Mideleg  uint64
	Stvec    uint64
	Sscratch uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Satp     uint64
	Ilrsc    uint64
	Mcycle   uint64
	Minstret uint64
}

type flashManifest struct {
	Start  uint64
	Length uint64
	Shared bool
	Path   string
}

// Store writes dir's configuration manifest, one binary dump per memory
// PMA (RAM, ROM, each flash drive), and the Merkle root hash.
func (m *Machine) Store(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(FilesystemError, "creating store directory %s: %v", dir, err)
	}

	man := m.buildManifest()

	f, err := os.Create(filepath.Join(dir, "config.toml"))
	if err != nil {
		return newError(FilesystemError, "creating config manifest: %v", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(man); err != nil {
		return newError(FilesystemError, "writing config manifest: %v", err)
	}

	if err := writeMemoryDump(dir, "ram.bin", RAMBase, m.table); err != nil {
		return err
	}
	if m.cfg.ROMLength > 0 {
		if err := writeMemoryDump(dir, "rom.bin", ROMBase, m.table); err != nil {
			return err
		}
	}
	for i, fl := range m.cfg.FlashDrives {
		name := flashFileName(i)
		if err := writeMemoryDump(dir, name, fl.Start, m.table); err != nil {
			return err
		}
	}

	root := m.GetRootHash()
	if err := os.WriteFile(filepath.Join(dir, "root.hash"), root[:], 0o644); err != nil {
		return newError(FilesystemError, "writing root hash: %v", err)
	}
	return nil
}

func flashFileName(i int) string {
	return "flash" + strconv.Itoa(i) + ".bin"
}

func writeMemoryDump(dir, name string, start uint64, table *pma.Table) error {
	e := table.Resolve(start, 1)
	if e.IsSentinel() || !e.IsMemory() {
		return newError(RuntimeError, "no memory region at %#x to dump", start)
	}
	if err := os.WriteFile(filepath.Join(dir, name), e.Data, 0o644); err != nil {
		return newError(FilesystemError, "writing %s: %v", name, err)
	}
	return nil
}

func (m *Machine) buildManifest() manifest {
	man := manifest{
		RAMLength:       m.cfg.RAMLength,
		ROMLength:       m.cfg.ROMLength,
		ROMBootargs:     m.cfg.ROMBootargs,
		InitialPC:       m.cfg.InitialPC,
		InitialMisa:     m.cfg.InitialMisa,
		InitialMtimecmp: m.cfg.InitialMtimecmp,
		InitialTohost:   m.cfg.InitialTohost,
		InitialFromhost: m.cfg.InitialFromhost,
		Interactive:     m.cfg.Interactive,

		PC:       m.direct.ReadPC(),
		Mstatus:  m.direct.ReadMstatus(),
		Mtvec:    m.direct.ReadMtvec(),
		Mscratch: m.direct.ReadMscratch(),
		Mepc:     m.direct.ReadMepc(),
		Mcause:   m.direct.ReadMcause(),
		Mtval:    m.direct.ReadMtval(),
		Misa:     m.direct.ReadMisa(),
		Mie:      m.direct.ReadMie(),
		Mip:      m.direct.ReadMip(),
		Medeleg:  m.direct.ReadMedeleg(),
		Mideleg:  m.direct.ReadMideleg(),
		Stvec:    m.direct.ReadStvec(),
		Sscratch: m.direct.ReadSscratch(),
		Sepc:     m.direct.ReadSepc(),
		Scause:   m.direct.ReadScause(),
		Stval:    m.direct.ReadStval(),
		Satp:     m.direct.ReadSatp(),
		Ilrsc:    m.direct.ReadIlrsc(),
		Mcycle:   m.direct.ReadMcycle(),
		Minstret: m.direct.ReadMinstret(),
	}
	for i := range man.X {
		man.X[i] = m.direct.ReadX(i)
	}
	for _, fl := range m.cfg.FlashDrives {
		man.Flash = append(man.Flash, flashManifest{Start: fl.Start, Length: fl.Length, Shared: fl.Shared, Path: fl.Path})
	}
	return man
}

// Load reconstructs a Machine from a directory Store wrote, pinning the
// exact CSR values and PMA layout so re-hashing yields the same root.
func Load(dir string) (*Machine, error) {
	var man manifest
	if _, err := toml.DecodeFile(filepath.Join(dir, "config.toml"), &man); err != nil {
		return nil, newError(FilesystemError, "reading config manifest: %v", err)
	}

	ramImage, err := os.ReadFile(filepath.Join(dir, "ram.bin"))
	if err != nil {
		return nil, newError(FilesystemError, "reading ram.bin: %v", err)
	}

	cfg := Config{
		RAMLength:       man.RAMLength,
		RAMImage:        ramImage,
		ROMLength:       man.ROMLength,
		ROMBootargs:     man.ROMBootargs,
		InitialPC:       man.InitialPC,
		InitialMisa:     man.InitialMisa,
		InitialMtimecmp: man.InitialMtimecmp,
		InitialTohost:   man.InitialTohost,
		InitialFromhost: man.InitialFromhost,
		Interactive:     man.Interactive,
	}
	if man.ROMLength > 0 {
		romImage, err := os.ReadFile(filepath.Join(dir, "rom.bin"))
		if err != nil {
			return nil, newError(FilesystemError, "reading rom.bin: %v", err)
		}
		cfg.ROMImage = romImage
	}
	for i, fm := range man.Flash {
		image, err := os.ReadFile(filepath.Join(dir, flashFileName(i)))
		if err != nil {
			return nil, newError(FilesystemError, "reading %s: %v", flashFileName(i), err)
		}
		cfg.FlashDrives = append(cfg.FlashDrives, FlashConfig{
			Start: fm.Start, Length: fm.Length, Shared: fm.Shared, Path: fm.Path, Image: image,
		})
	}

	m, err := New(cfg)
	if err != nil {
		return nil, err
	}

	m.direct.WritePC(man.PC)
	for i, v := range man.X {
		m.direct.WriteX(i, v)
	}
	m.direct.WriteMstatus(man.Mstatus)
	m.direct.WriteMtvec(man.Mtvec)
	m.direct.WriteMscratch(man.Mscratch)
	m.direct.WriteMepc(man.Mepc)
	m.direct.WriteMcause(man.Mcause)
	m.direct.WriteMtval(man.Mtval)
	m.direct.WriteMisa(man.Misa)
	m.direct.WriteMie(man.Mie)
	m.direct.WriteMip(man.Mip)
	m.direct.WriteMedeleg(man.Medeleg)
	m.direct.WriteMideleg(man.Mideleg)
	m.direct.WriteStvec(man.Stvec)
	m.direct.WriteSscratch(man.Sscratch)
	m.direct.WriteSepc(man.Sepc)
	m.direct.WriteScause(man.Scause)
	m.direct.WriteStval(man.Stval)
	m.direct.WriteSatp(man.Satp)
	m.direct.WriteIlrsc(man.Ilrsc)
	m.direct.WriteMcycle(man.Mcycle)
	m.direct.WriteMinstret(man.Minstret)

	m.UpdateMerkleTree()
	return m, nil
}
