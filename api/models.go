package api

import (
	"time"

	"github.com/go-rvm/rvm/config"
	"github.com/go-rvm/rvm/service"
)

// SessionCreateRequest represents a request to create a new session. The
// embedded MachineConfig is optional; a zero value is filled in with
// config.DefaultMachineConfig's RAM/ROM/CSR defaults.
type SessionCreateRequest struct {
	config.MachineConfig
}

// SessionCreateResponse represents the response from creating a session
type SessionCreateResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStatusResponse represents the current status of a session
type SessionStatusResponse struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	PC        uint64 `json:"pc"`
	Mcycle    uint64 `json:"mcycle"`
	Minstret  uint64 `json:"minstret"`
}

// RunRequest represents a request to run until targetMcycle, 0 meaning run
// until halt/yield/breakpoint with no cycle cap.
type RunRequest struct {
	TargetMcycle uint64 `json:"targetMcycle,omitempty"`
}

// RegistersResponse represents the current register state
type RegistersResponse struct {
	X        [32]uint64 `json:"x"`
	PC       uint64     `json:"pc"`
	Mcycle   uint64     `json:"mcycle"`
	Minstret uint64     `json:"minstret"`
}

// MemoryRequest represents a request for memory data
type MemoryRequest struct {
	Address uint64 `json:"address"`
	Length  int    `json:"length"`
}

// MemoryResponse represents memory data
type MemoryResponse struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
	Length  int    `json:"length"`
}

// MemoryWriteRequest represents a request to write memory data
type MemoryWriteRequest struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

// CSRRequest represents a request to read or write a CSR by numeric address
type CSRRequest struct {
	Addr  uint16 `json:"addr"`
	Value uint64 `json:"value,omitempty"`
}

// CSRResponse represents a CSR's current value
type CSRResponse struct {
	Addr  uint16 `json:"addr"`
	Value uint64 `json:"value"`
}

// BreakpointRequest represents a request to add/remove a PC breakpoint
type BreakpointRequest struct {
	Address uint64 `json:"address"`
}

// BreakpointsResponse represents a list of breakpoints
type BreakpointsResponse struct {
	Breakpoints []service.BreakpointInfo `json:"breakpoints"`
}

// StdinRequest represents a request to send stdin data
type StdinRequest struct {
	Data string `json:"data"`
}

// RootHashResponse represents the machine's current Merkle root
type RootHashResponse struct {
	RootHash string `json:"rootHash"` // hex-encoded
}

// ProofRequest represents a request for a Merkle inclusion proof
type ProofRequest struct {
	Address  uint64 `json:"address"`
	Log2Size int    `json:"log2Size"`
}

// ProofResponse represents a Merkle inclusion proof
type ProofResponse struct {
	Address      uint64   `json:"address"`
	Log2Size     int      `json:"log2Size"`
	TargetHash   string   `json:"targetHash"`
	RootHash     string   `json:"rootHash"`
	SiblingHashes []string `json:"siblingHashes"`
}

// FlashReplaceRequest represents a request to replace a flash drive's image
type FlashReplaceRequest struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
	Data   []byte `json:"data"`
}

// StoreRequest represents a request to persist machine state to disk
type StoreRequest struct {
	Directory string `json:"directory"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse represents a simple success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Event represents a WebSocket event
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateEvent represents a state change event
type StateEvent struct {
	State    string     `json:"state"`
	PC       uint64     `json:"pc"`
	X        [32]uint64 `json:"x"`
	Mcycle   uint64     `json:"mcycle"`
	Minstret uint64     `json:"minstret"`
}

// OutputEvent represents console output
type OutputEvent struct {
	Stream  string `json:"stream"`  // "stdout" or "stderr"
	Content string `json:"content"` // Output content
}

// ExecutionEvent represents execution events like breakpoints
type ExecutionEvent struct {
	Event   string `json:"event"` // "breakpoint_hit", "halted", "yielded", "error"
	Address uint64 `json:"address,omitempty"`
	Message string `json:"message,omitempty"`
}

// ToRegisterResponse converts service.RegisterState to API response
func ToRegisterResponse(regs *service.RegisterState) *RegistersResponse {
	return &RegistersResponse{
		X:        regs.X,
		PC:       regs.PC,
		Mcycle:   regs.Mcycle,
		Minstret: regs.Minstret,
	}
}
