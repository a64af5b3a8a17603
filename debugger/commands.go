package debugger

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-rvm/rvm/interp"
	"github.com/go-rvm/rvm/machine"
	"github.com/go-rvm/rvm/service"
)

// Command handler implementations

var lastSnapshot *machine.Snapshot

// cmdRun continues execution to completion (halt, yield, or breakpoint)
func (d *Debugger) cmdRun(args []string) error {
	d.Running = true
	d.StepMode = StepNone
	d.Println("Running...")
	return nil
}

// cmdContinue continues execution from the current point
func (d *Debugger) cmdContinue(args []string) error {
	if d.Session.State() == service.StateHalted {
		return fmt.Errorf("machine is halted")
	}

	d.Running = true
	d.StepMode = StepNone
	d.Println("Continuing...")
	return nil
}

// cmdStep executes a single instruction
func (d *Debugger) cmdStep(args []string) error {
	d.SetStep()
	return nil
}

// cmdBreak sets a breakpoint
func (d *Debugger) cmdBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <address>")
	}

	address, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}

	bp := d.Breakpoints.AddBreakpoint(address, false)
	d.Printf("Breakpoint %d at 0x%016X\n", bp.ID, address)

	return nil
}

// cmdTBreak sets a temporary breakpoint (auto-delete after hit)
func (d *Debugger) cmdTBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tbreak <address>")
	}

	address, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}

	bp := d.Breakpoints.AddBreakpoint(address, true)
	d.Printf("Temporary breakpoint %d at 0x%016X\n", bp.ID, address)

	return nil
}

// cmdDelete deletes breakpoint(s)
func (d *Debugger) cmdDelete(args []string) error {
	if len(args) == 0 {
		d.Breakpoints.Clear()
		d.Println("All breakpoints deleted")
		return nil
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}

	if err := d.Breakpoints.DeleteBreakpoint(id); err != nil {
		return err
	}

	d.Printf("Breakpoint %d deleted\n", id)
	return nil
}

// cmdEnable enables breakpoint(s)
func (d *Debugger) cmdEnable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: enable <breakpoint-id>")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}

	if err := d.Breakpoints.EnableBreakpoint(id); err != nil {
		return err
	}

	d.Printf("Breakpoint %d enabled\n", id)
	return nil
}

// cmdDisable disables breakpoint(s)
func (d *Debugger) cmdDisable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: disable <breakpoint-id>")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}

	if err := d.Breakpoints.DisableBreakpoint(id); err != nil {
		return err
	}

	d.Printf("Breakpoint %d disabled\n", id)
	return nil
}

// cmdPrint prints a register, CSR, or memory word
func (d *Debugger) cmdPrint(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <register|csr-name|*address>")
	}

	target := strings.ToLower(args[0])

	if strings.HasPrefix(target, "*") {
		addr, err := d.ResolveAddress(target[1:])
		if err != nil {
			return err
		}
		data, err := d.Session.ReadMemory(addr, 8)
		if err != nil {
			return err
		}
		var value uint64
		for i := 7; i >= 0; i-- {
			value = value<<8 | uint64(data[i])
		}
		d.Printf("*0x%016X = 0x%016X (%d)\n", addr, value, int64(value))
		return nil
	}

	if reg, ok := parseRegisterName(target); ok {
		regs := d.Session.Registers()
		value := registerValue(&regs, reg)
		d.Printf("%s = 0x%016X (%d)\n", target, value, int64(value))
		return nil
	}

	if addr, ok := interp.CSRByName[target]; ok {
		value, err := d.Session.ReadCSR(addr)
		if err != nil {
			return err
		}
		d.Printf("%s = 0x%016X\n", target, value)
		return nil
	}

	return fmt.Errorf("unknown identifier: %s", target)
}

// cmdExamine examines memory at an address
func (d *Debugger) cmdExamine(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: x[/nu] <address>\n  n: count, u: unit size (b/h/w/g)")
	}

	count := 1
	unit := 'g'
	addrArg := args[0]

	if strings.HasPrefix(args[0], "/") {
		formatStr := args[0][1:]
		if len(args) < 2 {
			return fmt.Errorf("missing address")
		}
		addrArg = args[1]

		i := 0
		for i < len(formatStr) && formatStr[i] >= '0' && formatStr[i] <= '9' {
			i++
		}
		if i > 0 {
			if n, err := strconv.Atoi(formatStr[:i]); err == nil {
				count = n
			}
			formatStr = formatStr[i:]
		}
		if len(formatStr) > 0 {
			unit = rune(formatStr[0])
		}
	}

	address, err := d.ResolveAddress(addrArg)
	if err != nil {
		return err
	}

	unitSize := 8
	switch unit {
	case 'b':
		unitSize = 1
	case 'h':
		unitSize = 2
	case 'w':
		unitSize = 4
	}

	d.Printf("0x%016X:", address)
	for i := 0; i < count; i++ {
		data, err := d.Session.ReadMemory(address, unitSize)
		if err != nil {
			return err
		}
		var value uint64
		for j := unitSize - 1; j >= 0; j-- {
			value = value<<8 | uint64(data[j])
		}
		d.Printf(" 0x%0*X", unitSize*2, value)
		address += uint64(unitSize)
	}
	d.Println()

	return nil
}

// cmdInfo displays information about machine state
func (d *Debugger) cmdInfo(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: info <registers|breakpoints|state>")
	}

	switch strings.ToLower(args[0]) {
	case "registers", "reg", "r":
		return d.showRegisters()
	case "breakpoints", "break", "b":
		return d.showBreakpoints()
	case "state":
		return d.showState()
	default:
		return fmt.Errorf("unknown info command: %s", args[0])
	}
}

// showRegisters displays all register values
func (d *Debugger) showRegisters() error {
	regs := d.Session.Registers()
	d.Println("Registers:")
	for i := 0; i < 32; i++ {
		d.Printf("  x%-2d = 0x%016X (%d)\n", i, regs.X[i], int64(regs.X[i]))
	}
	d.Printf("  pc       = 0x%016X\n", regs.PC)
	d.Printf("  mcycle   = %d\n", regs.Mcycle)
	d.Printf("  minstret = %d\n", regs.Minstret)

	return nil
}

// showBreakpoints displays all breakpoints
func (d *Debugger) showBreakpoints() error {
	breakpoints := d.Breakpoints.GetAllBreakpoints()
	if len(breakpoints) == 0 {
		d.Println("No breakpoints")
		return nil
	}

	d.Println("Breakpoints:")
	for _, bp := range breakpoints {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}

		temp := ""
		if bp.Temporary {
			temp = " (temporary)"
		}

		d.Printf("  %d: 0x%016X %s%s (hit %d times)\n",
			bp.ID, bp.Address, status, temp, bp.HitCount)
	}

	return nil
}

// showState displays the machine's execution state
func (d *Debugger) showState() error {
	d.Printf("State: %s\n", d.Session.State())
	return nil
}

// cmdSet modifies CSR or memory values
func (d *Debugger) cmdSet(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: set <csr-name|*address> = <value>")
	}

	if args[1] != "=" {
		return fmt.Errorf("usage: set <csr-name|*address> = <value>")
	}

	target := strings.ToLower(args[0])
	value, err := parseImmediate(args[2])
	if err != nil {
		return err
	}

	if strings.HasPrefix(target, "*") {
		addr, err := d.ResolveAddress(target[1:])
		if err != nil {
			return err
		}
		data := make([]byte, 8)
		for i := 0; i < 8; i++ {
			data[i] = byte(value >> (8 * i))
		}
		if err := d.Session.WriteMemory(addr, data); err != nil {
			return err
		}
		d.Printf("Memory 0x%016X set to 0x%016X\n", addr, value)
		return nil
	}

	if addr, ok := interp.CSRByName[target]; ok {
		if err := d.Session.WriteCSR(addr, value); err != nil {
			return err
		}
		d.Printf("CSR %s set to 0x%016X\n", target, value)
		return nil
	}

	return fmt.Errorf("unsupported set target: %s (only memory and CSRs can be written)", target)
}

// cmdRootHash prints the machine's Merkle root hash
func (d *Debugger) cmdRootHash(args []string) error {
	root := d.Session.GetRootHash()
	d.Printf("root hash: %s\n", hex.EncodeToString(root[:]))
	return nil
}

// cmdProof prints a Merkle proof for a physical address range
func (d *Debugger) cmdProof(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: proof <address> <log2Size>")
	}

	addr, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}
	log2Size, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid log2Size: %s", args[1])
	}

	proof, err := d.Session.GetProof(addr, log2Size)
	if err != nil {
		return err
	}

	d.Printf("target hash: %s\n", hex.EncodeToString(proof.TargetHash[:]))
	d.Printf("root hash:   %s\n", hex.EncodeToString(proof.RootHash[:]))
	for i, sibling := range proof.Siblings {
		d.Printf("sibling[%d]:  %s\n", i, hex.EncodeToString(sibling[:]))
	}

	return nil
}

// cmdSnapshot takes a checkpoint of the machine's state
func (d *Debugger) cmdSnapshot(args []string) error {
	lastSnapshot = d.Session.Snapshot()
	d.Println("Snapshot taken")
	return nil
}

// cmdRollback restores the machine to the last snapshot
func (d *Debugger) cmdRollback(args []string) error {
	if lastSnapshot == nil {
		return fmt.Errorf("no snapshot taken")
	}
	d.Session.Rollback(lastSnapshot)
	d.Println("Rolled back to last snapshot")
	return nil
}

// cmdHelp displays help information
func (d *Debugger) cmdHelp(args []string) error {
	if len(args) > 0 {
		return d.showCommandHelp(args[0])
	}

	d.Println("rvm debugger commands:")
	d.Println()
	d.Println("Execution Control:")
	d.Println("  run (r)           - Run until halt, yield, or breakpoint")
	d.Println("  continue (c)      - Continue execution")
	d.Println("  step (s, si)      - Execute single instruction")
	d.Println()
	d.Println("Breakpoints:")
	d.Println("  break (b) <addr>  - Set breakpoint")
	d.Println("  tbreak (tb) <addr>- Set temporary breakpoint")
	d.Println("  delete (d) [id]   - Delete breakpoint(s)")
	d.Println("  enable <id>       - Enable breakpoint")
	d.Println("  disable <id>      - Disable breakpoint")
	d.Println()
	d.Println("Inspection:")
	d.Println("  print (p) <expr>  - Print register, CSR, or *address")
	d.Println("  x[/nu] <addr>     - Examine memory")
	d.Println("  info (i) <what>   - Show information (registers, breakpoints, state)")
	d.Println()
	d.Println("Modification:")
	d.Println("  set <var> = <val> - Modify CSR or memory")
	d.Println()
	d.Println("Commitment:")
	d.Println("  roothash          - Print the Merkle root hash")
	d.Println("  proof <addr> <n>  - Print a Merkle proof for a 2^n-byte region")
	d.Println()
	d.Println("Checkpointing:")
	d.Println("  snapshot          - Take a state checkpoint")
	d.Println("  rollback          - Restore the last checkpoint")
	d.Println()
	d.Println("Control:")
	d.Println("  help (h, ?)       - Show this help")
	d.Println()
	d.Println("Type 'help <command>' for detailed help on a specific command.")

	return nil
}

// showCommandHelp shows detailed help for a specific command
func (d *Debugger) showCommandHelp(cmd string) error {
	helpText := map[string]string{
		"break":    "break <address>\n  Set a breakpoint at the specified physical address.",
		"step":     "step\n  Execute a single instruction.",
		"print":    "print <register|csr-name|*address>\n  Print a register (x0-x31, pc), a CSR by mnemonic, or a memory word.",
		"x":        "x[/nu] <address>\n  Examine memory.\n  n: count, u: unit (b/h/w/g)",
		"info":     "info <registers|breakpoints|state>\n  Display information about machine state.",
		"roothash": "roothash\n  Print the current Merkle root hash.",
		"proof":    "proof <address> <log2Size>\n  Print a Merkle proof for the 2^log2Size-byte region at address.",
	}

	if help, exists := helpText[cmd]; exists {
		d.Println(help)
		return nil
	}

	return fmt.Errorf("no help available for command: %s", cmd)
}

// parseRegisterName resolves "x0".."x31" or "pc" to a register index, with
// -1 reserved for pc.
func parseRegisterName(name string) (int, bool) {
	if name == "pc" {
		return -1, true
	}
	if !strings.HasPrefix(name, "x") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 0 || n > 31 {
		return 0, false
	}
	return n, true
}

func registerValue(regs *service.RegisterState, reg int) uint64 {
	if reg == -1 {
		return regs.PC
	}
	return regs.X[reg]
}

// parseImmediate parses a decimal or 0x-prefixed hex literal.
func parseImmediate(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
