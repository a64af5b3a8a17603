package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-rvm/rvm/service"
)

// Debugger represents the debugger state and functionality
type Debugger struct {
	Session *service.Session

	// Breakpoint management
	Breakpoints *BreakpointManager

	// Command history
	History *CommandHistory

	// Execution control
	Running  bool
	StepMode StepMode

	// Last command (for repeat on empty input)
	LastCommand string

	// Output buffer
	Output strings.Builder
}

// StepMode represents different stepping modes
type StepMode int

const (
	StepNone   StepMode = iota // Not stepping
	StepSingle                 // Step one instruction
)

// NewDebugger creates a new debugger instance wrapping an already-loaded
// session.
func NewDebugger(session *service.Session) *Debugger {
	return &Debugger{
		Session:     session,
		Breakpoints: NewBreakpointManager(),
		History:     NewCommandHistory(),
		Running:     false,
		StepMode:    StepNone,
	}
}

// ResolveAddress parses a numeric address in decimal or 0x-prefixed hex.
func (d *Debugger) ResolveAddress(addrStr string) (uint64, error) {
	base := 10
	if strings.HasPrefix(addrStr, "0x") || strings.HasPrefix(addrStr, "0X") {
		addrStr, base = addrStr[2:], 16
	}
	addr, err := strconv.ParseUint(addrStr, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %s", addrStr)
	}
	return addr, nil
}

// ExecuteCommand processes and executes a debugger command
func (d *Debugger) ExecuteCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)

	// Empty command repeats last command (e.g. step)
	if cmdLine == "" {
		cmdLine = d.LastCommand
	}

	// Don't store empty commands
	if cmdLine != "" {
		d.History.Add(cmdLine)
		d.LastCommand = cmdLine
	}

	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	return d.handleCommand(cmd, args)
}

// handleCommand dispatches commands to appropriate handlers
func (d *Debugger) handleCommand(cmd string, args []string) error {
	switch cmd {
	// Execution control
	case "run", "r":
		return d.cmdRun(args)
	case "continue", "c":
		return d.cmdContinue(args)
	case "step", "s", "si":
		return d.cmdStep(args)

	// Breakpoints
	case "break", "b":
		return d.cmdBreak(args)
	case "tbreak", "tb":
		return d.cmdTBreak(args)
	case "delete", "d":
		return d.cmdDelete(args)
	case "enable":
		return d.cmdEnable(args)
	case "disable":
		return d.cmdDisable(args)

	// Inspection
	case "print", "p":
		return d.cmdPrint(args)
	case "x":
		return d.cmdExamine(args)
	case "info", "i":
		return d.cmdInfo(args)

	// State modification
	case "set":
		return d.cmdSet(args)

	// Commitment
	case "roothash":
		return d.cmdRootHash(args)
	case "proof":
		return d.cmdProof(args)

	// Checkpointing
	case "snapshot":
		return d.cmdSnapshot(args)
	case "rollback":
		return d.cmdRollback(args)

	// Help
	case "help", "h", "?":
		return d.cmdHelp(args)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

// ShouldBreak checks if execution should pause at the current PC
func (d *Debugger) ShouldBreak() (bool, string) {
	pc := d.Session.Registers().PC

	if d.StepMode == StepSingle {
		d.StepMode = StepNone
		return true, "single step"
	}

	if bp := d.Breakpoints.GetBreakpoint(pc); bp != nil {
		if !bp.Enabled {
			return false, ""
		}

		hit := d.Breakpoints.ProcessHit(pc)
		return true, fmt.Sprintf("breakpoint %d", hit.ID)
	}

	return false, ""
}

// GetOutput returns and clears the output buffer
func (d *Debugger) GetOutput() string {
	output := d.Output.String()
	d.Output.Reset()
	return output
}

// Printf writes formatted output to the output buffer
func (d *Debugger) Printf(format string, args ...interface{}) {
	d.Output.WriteString(fmt.Sprintf(format, args...))
}

// Println writes a line to the output buffer
func (d *Debugger) Println(args ...interface{}) {
	d.Output.WriteString(fmt.Sprintln(args...))
}

// SetStep configures the debugger to single-step one instruction.
func (d *Debugger) SetStep() {
	d.StepMode = StepSingle
	d.Running = true
}
