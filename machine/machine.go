package machine

import (
	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/device"
	"github.com/go-rvm/rvm/interp"
	"github.com/go-rvm/rvm/merkle"
	"github.com/go-rvm/rvm/pma"
	"github.com/go-rvm/rvm/riscv"
)

// Machine is the top-level assembly: the PMA table, its Merkle tree,
// the shadow-backed direct state accessor, and the devices that tick
// alongside every cycle.
type Machine struct {
	cfg    Config
	table  *pma.Table
	shadow *pma.Entry
	tree   *merkle.Tree
	direct *access.Direct

	htif  *device.HTIF
	clint device.CLINT
	dhd   *device.DHD

	lastTohost uint64
}

// New builds a Machine from cfg, laying out the PMA table in the fixed
// order shadow / ROM / DHD / flash.../ RAM, matching the base addresses
// config.go documents.
func New(cfg Config) (*Machine, error) {
	shadow, err := access.NewShadowEntry(ShadowBase)
	if err != nil {
		return nil, newError(RuntimeError, "building shadow region: %v", err)
	}

	entries := []*pma.Entry{shadow}

	if cfg.ROMLength > 0 {
		rom, err := pma.NewMemoryEntry(ROMBase, align(cfg.ROMLength), pma.Flags{R: true, X: true, DID: pma.DIDROM}, cfg.ROMImage)
		if err != nil {
			return nil, newError(InvalidArgument, "building ROM region: %v", err)
		}
		entries = append(entries, rom)
	}

	dhd := device.NewDHD()
	for hash, preimage := range cfg.DehashPreimages {
		dhd.Register(merkle.Hash(hash), preimage)
	}
	dhdEntry, err := pma.NewDeviceEntry(DHDBase, pma.PageSize, pma.Flags{R: true, W: true, DID: pma.DIDDehash}, dhd.NewDriver())
	if err != nil {
		return nil, newError(RuntimeError, "building DHD region: %v", err)
	}
	entries = append(entries, dhdEntry)

	for _, f := range cfg.FlashDrives {
		if f.Length == 0 || f.Length%pma.PageSize != 0 {
			return nil, newError(InvalidArgument, "flash drive at %#x has non-page-aligned length %d", f.Start, f.Length)
		}
		flags := pma.Flags{R: true, W: true, DID: pma.DIDFlash}
		var fe *pma.Entry
		var err error
		if f.Shared {
			// f.Image is the loader's mmap'd file; wrap it without copying
			// so writes land straight in the mapped file.
			fe, err = pma.NewMemoryEntryFromBuffer(f.Start, flags, f.Image)
		} else {
			fe, err = pma.NewMemoryEntry(f.Start, f.Length, flags, f.Image)
		}
		if err != nil {
			return nil, newError(InvalidArgument, "building flash region at %#x: %v", f.Start, err)
		}
		entries = append(entries, fe)
	}

	if cfg.RAMLength == 0 {
		return nil, newError(InvalidArgument, "RAM length must be non-zero")
	}
	ram, err := pma.NewMemoryEntry(RAMBase, align(cfg.RAMLength), pma.Flags{R: true, W: true, X: true, DID: pma.DIDMemory}, cfg.RAMImage)
	if err != nil {
		return nil, newError(InvalidArgument, "building RAM region: %v", err)
	}
	entries = append(entries, ram)

	table, err := pma.NewTable(entries)
	if err != nil {
		return nil, newError(DomainError, "assembling PMA table: %v", err)
	}

	m := &Machine{
		cfg:    cfg,
		table:  table,
		shadow: shadow,
		tree:   merkle.New(table),
		direct: access.NewDirect(shadow, table),
		htif:   device.NewHTIF(cfg.Interactive),
		clint:  device.CLINT{},
		dhd:    dhd,
	}
	m.resetState()
	return m, nil
}

func align(length uint64) uint64 {
	if r := length % pma.PageSize; r != 0 {
		length += pma.PageSize - r
	}
	return length
}

func (m *Machine) resetState() {
	misa := m.cfg.InitialMisa
	if misa == 0 {
		misa = riscv.ResetMisa
	}
	m.direct.WriteMisa(misa)
	m.direct.WritePC(m.cfg.InitialPC)
	m.direct.WriteIlrsc(^uint64(0))
	m.direct.WriteClintMtimecmp(m.cfg.InitialMtimecmp)
	m.direct.WriteHtifTohost(m.cfg.InitialTohost)
	m.direct.WriteHtifFromhost(m.cfg.InitialFromhost)
	m.lastTohost = m.cfg.InitialTohost
}

// Run advances the machine until mcycle reaches targetMcycle, the guest
// halts, or the guest yields.
func (m *Machine) Run(targetMcycle uint64) error {
	for m.direct.ReadMcycle() < targetMcycle {
		if m.direct.ReadIflagsH() {
			break
		}
		if err := interp.Step(m.direct); err != nil {
			return newError(RuntimeError, "interpreter: %v", err)
		}
		m.tickDevices(m.direct)
		if halted, _ := m.htif.Halted(); halted {
			m.direct.SetIflagsH()
			break
		}
		if yielded, _ := m.htif.Yielded(); yielded {
			break
		}
	}
	return nil
}

func (m *Machine) tickDevices(s access.State) {
	m.lastTohost = m.htif.Step(s, m.lastTohost)
	m.clint.Tick(s)
}

// Step advances exactly one interpreter cycle with logging, returning the
// resulting access log; verify.VerifyAccessLog/VerifyStateTransition
// replay exactly this logged cycle. Device effects
// (HTIF, CLINT) are then applied directly against the live state and
// folded into the tree - they are a deterministic function of the
// already-committed architectural state, not something a third party
// needs the log to re-derive, so they fall outside the replayable log.
func (m *Machine) Step() (*access.Log, error) {
	logging := access.NewLogging(m.direct, m.tree)
	if err := interp.Step(logging); err != nil {
		return nil, newError(RuntimeError, "interpreter: %v", err)
	}
	log := logging.Finish()
	m.tickDevices(m.direct)
	m.tree.Update()
	return log, nil
}

// ReadX/WriteX, ReadPC/WritePC are the unprivileged host pokes; writes
// to x0 are silent no-ops (access.Direct enforces it).
func (m *Machine) ReadX(reg int) uint64       { return m.direct.ReadX(reg) }
func (m *Machine) WriteX(reg int, val uint64) { m.direct.WriteX(reg, val) }
func (m *Machine) ReadPC() uint64             { return m.direct.ReadPC() }
func (m *Machine) WritePC(val uint64)         { m.direct.WritePC(val) }

// ReadMcycle and ReadMinstret report the cycle/instruction counters a
// monitor or debugger polls between steps.
func (m *Machine) ReadMcycle() uint64   { return m.direct.ReadMcycle() }
func (m *Machine) ReadMinstret() uint64 { return m.direct.ReadMinstret() }

// ReadCSR and WriteCSR poke a CSR by its numeric address, bypassing guest
// privilege checks the way a debugger or a monitor API must be able to.
func (m *Machine) ReadCSR(addr uint16) (uint64, error) {
	v, err := interp.ReadCSR(m.direct, addr)
	if err != nil {
		return 0, newError(OutOfRange, "%v", err)
	}
	return v, nil
}

func (m *Machine) WriteCSR(addr uint16, val uint64) error {
	if err := interp.WriteCSR(m.direct, addr, val); err != nil {
		return newError(OutOfRange, "%v", err)
	}
	return nil
}

// ReadMemory and WriteMemory copy a byte range that must lie entirely
// within one memory PMA.
func (m *Machine) ReadMemory(addr uint64, length int) ([]byte, error) {
	e := m.table.Resolve(addr, length)
	if e.IsSentinel() || !e.IsMemory() {
		return nil, newError(OutOfRange, "address %#x length %d is not within a single memory region", addr, length)
	}
	off := addr - e.Start
	out := make([]byte, length)
	copy(out, e.Data[off:off+uint64(length)])
	return out, nil
}

func (m *Machine) WriteMemory(addr uint64, data []byte) error {
	e := m.table.Resolve(addr, len(data))
	if e.IsSentinel() || !e.IsMemory() {
		return newError(OutOfRange, "address %#x length %d is not within a single memory region", addr, len(data))
	}
	off := addr - e.Start
	copy(e.Data[off:off+uint64(len(data))], data)
	for page := off / pma.PageSize; page <= (off+uint64(len(data))-1)/pma.PageSize; page++ {
		e.MarkDirty(page * pma.PageSize)
	}
	return nil
}

// UpdateMerkleTree, GetRootHash, GetProof, VerifyMerkleTree, and
// VerifyDirtyPageMaps expose merkle.Tree's operations directly; Machine
// adds nothing beyond routing.
func (m *Machine) UpdateMerkleTree() { m.tree.Update() }

func (m *Machine) GetRootHash() merkle.Hash { return m.tree.Root() }

func (m *Machine) GetProof(addr uint64, log2Size int) (*merkle.Proof, error) {
	proof, err := m.tree.GetProof(addr, log2Size)
	if err != nil {
		return nil, newError(InvalidArgument, "%v", err)
	}
	return proof, nil
}

func (m *Machine) VerifyMerkleTree() bool    { return m.tree.VerifyMerkleTree() }
func (m *Machine) VerifyDirtyPageMaps() bool { return m.tree.VerifyDirtyPageMaps() }

// Halted reports the guest's HTIF halt latch and exit code.
func (m *Machine) Halted() (bool, uint64) { return m.htif.Halted() }

// Yielded reports the guest's HTIF yield latch and reason; reading it
// clears the latch. Run reads it after every cycle, so a yield that
// stopped Run has already been cleared.
func (m *Machine) Yielded() (bool, uint64) { return m.htif.Yielded() }

// FeedConsole queues host-provided bytes for the next console GETCHAR
// polls; a no-op unless the machine was configured Interactive.
func (m *Machine) FeedConsole(data []byte) { m.htif.Feed(data) }

// DrainConsole returns and clears everything the guest has written via
// console PUTCHAR.
func (m *Machine) DrainConsole() []byte { return m.htif.DrainOutput() }
