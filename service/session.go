// Package service is the thread-safe facade shared by the TUI debugger,
// the monitor API, and the CLI front ends.
package service

import (
	"sync"

	"github.com/go-rvm/rvm/access"
	"github.com/go-rvm/rvm/loader"
	"github.com/go-rvm/rvm/machine"
	"github.com/go-rvm/rvm/merkle"
)

// stepsBeforeYield controls how often a long Run call reports progress
// back to its caller instead of running to completion silently.
const stepsBeforeYield = 1000

// Session is a thread-safe wrapper around a loader.LoadedMachine.
//
// Lock ordering: Session's own mutex (s.mu) guards every field access,
// including every call into the wrapped machine. Nothing underneath
// Session takes a lock of its own (machine.Machine assumes exclusive
// single-owner access), so there is exactly one lock to reason about
// here.
type Session struct {
	mu          sync.RWMutex
	machine     *loader.LoadedMachine
	breakpoints map[uint64]bool
	state       ExecutionState
	stopReq     bool
}

// NewSession wraps an already-loaded machine.
func NewSession(lm *loader.LoadedMachine) *Session {
	return &Session{
		machine:     lm,
		breakpoints: make(map[uint64]bool),
		state:       StateRunning,
	}
}

// Close releases the wrapped machine's resources (shared flash mappings).
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Close()
}

// State reports the session's last-observed execution state.
func (s *Session) State() ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Registers snapshots the integer register file, PC, and counters.
func (s *Session) Registers() RegisterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registersLocked()
}

func (s *Session) registersLocked() RegisterState {
	var regs RegisterState
	for i := range regs.X {
		regs.X[i] = s.machine.ReadX(i)
	}
	regs.PC = s.machine.ReadPC()
	regs.Mcycle = s.machine.ReadMcycle()
	regs.Minstret = s.machine.ReadMinstret()
	return regs
}

// SetBreakpoint arms a PC breakpoint; ClearBreakpoint disarms one.
func (s *Session) SetBreakpoint(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoints[addr] = true
}

func (s *Session) ClearBreakpoint(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakpoints, addr)
}

// Breakpoints lists the armed PC breakpoints.
func (s *Session) Breakpoints() []BreakpointInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BreakpointInfo, 0, len(s.breakpoints))
	for addr := range s.breakpoints {
		out = append(out, BreakpointInfo{Address: addr, Enabled: true})
	}
	return out
}

// Step advances the machine by exactly one logged cycle: the unit both
// the TUI debugger and the monitor API single-step by.
func (s *Session) Step() (*access.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, err := s.machine.Step()
	s.syncStateLocked(err)
	return log, err
}

// Run advances the machine toward targetMcycle, stopping early on a
// breakpoint hit, a halt, a yield, or an error. onProgress, when
// non-nil, receives a register snapshot every stepsBeforeYield
// instructions, so a caller can refresh a UI or broadcast state without
// paying that cost on every single cycle.
func (s *Session) Run(targetMcycle uint64, onProgress func(RegisterState)) (ExecutionState, error) {
	steps := 0
	for {
		s.mu.Lock()
		if s.stopReq {
			s.stopReq = false
			st := s.state
			s.mu.Unlock()
			return st, nil
		}
		if targetMcycle != 0 && s.machine.ReadMcycle() >= targetMcycle {
			s.state = StateHalted
			st := s.state
			s.mu.Unlock()
			return st, nil
		}
		if halted, _ := s.machine.Halted(); halted {
			s.state = StateHalted
			st := s.state
			s.mu.Unlock()
			return st, nil
		}
		if s.breakpoints[s.machine.ReadPC()] {
			s.state = StateBreakpoint
			st := s.state
			s.mu.Unlock()
			return st, nil
		}

		_, err := s.machine.Step()
		s.syncStateLocked(err)
		st := s.state
		s.mu.Unlock()

		if err != nil || st == StateYielded {
			return st, err
		}

		steps++
		if onProgress != nil && steps%stepsBeforeYield == 0 {
			onProgress(s.Registers())
		}
	}
}

// Stop requests that a concurrently running Run call return at its next
// loop iteration, leaving the machine's state exactly where it stopped.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReq = true
}

func (s *Session) syncStateLocked(err error) {
	if err != nil {
		s.state = StateError
		return
	}
	if halted, _ := s.machine.Halted(); halted {
		s.state = StateHalted
		return
	}
	if yielded, _ := s.machine.Yielded(); yielded {
		s.state = StateYielded
		return
	}
	s.state = StateRunning
}

// ReadMemory and WriteMemory expose the machine's byte-range accessors.
func (s *Session) ReadMemory(addr uint64, length int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.ReadMemory(addr, length)
}

func (s *Session) WriteMemory(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.WriteMemory(addr, data)
}

// ReadCSR and WriteCSR poke a CSR by numeric address, bypassing guest
// privilege checks the way a debugger or monitor API must be able to.
func (s *Session) ReadCSR(addr uint16) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.ReadCSR(addr)
}

func (s *Session) WriteCSR(addr uint16, val uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.WriteCSR(addr, val)
}

// GetRootHash and GetProof expose the Merkle commitment.
func (s *Session) GetRootHash() merkle.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.UpdateMerkleTree()
	return s.machine.GetRootHash()
}

func (s *Session) GetProof(addr uint64, log2Size int) (*merkle.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.UpdateMerkleTree()
	return s.machine.GetProof(addr, log2Size)
}

// Snapshot and Rollback expose the copy-on-write checkpoint.
func (s *Session) Snapshot() *machine.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Snapshot()
}

func (s *Session) Rollback(snap *machine.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.Rollback(snap)
}

// Store exposes persistence.
func (s *Session) Store(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Store(dir)
}

// FeedConsole and DrainConsole expose the HTIF console.
func (s *Session) FeedConsole(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.FeedConsole(data)
}

func (s *Session) DrainConsole() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.DrainConsole()
}

// ReplaceFlashDrive swaps a flash drive's backing image.
func (s *Session) ReplaceFlashDrive(start, length uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.ReplaceFlashDrive(start, length, data)
}
