// Command rvm boots a RISC-V machine from a TOML configuration file and
// either runs it to completion, drops into the CLI/TUI debugger, or
// exposes it over the HTTP+WebSocket monitor API.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	getopt "github.com/pborman/getopt/v2"
	"github.com/peterh/liner"

	"github.com/go-rvm/rvm/api"
	"github.com/go-rvm/rvm/config"
	"github.com/go-rvm/rvm/debugger"
	"github.com/go-rvm/rvm/loader"
	"github.com/go-rvm/rvm/service"
)

// Version information, overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Machine configuration file (TOML); defaults to the platform config path")
	optAPIServer := getopt.BoolLong("api-server", 'a', "Start the HTTP+WebSocket monitor API instead of running a machine directly")
	optPort := getopt.IntLong("port", 'p', 9000, "Monitor API port")
	optDebug := getopt.BoolLong("debug", 'd', "Start the CLI debugger instead of running to completion")
	optTUI := getopt.BoolLong("tui", 't', "Start the TUI debugger instead of running to completion")
	optCycles := getopt.Uint64Long("cycles", 'n', 0, "Target mcycle to run to; 0 runs until halt or yield")
	optVerbose := getopt.BoolLong("verbose", 'v', "Print a progress line every 1000 cycles while running")
	optVersion := getopt.BoolLong("version", 'V', "Show version information")
	optHelp := getopt.BoolLong("help", 'h', "Show this help")

	getopt.SetParameters("[ram-image]")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	if *optVersion {
		fmt.Printf("rvm %s (commit %s, built %s)\n", Version, Commit, Date)
		os.Exit(0)
	}

	mc, err := loadConfig(*optConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvm: %v\n", err)
		os.Exit(1)
	}

	if args := getopt.Args(); len(args) > 0 {
		mc.RAM.Image = args[0]
	}

	if *optAPIServer {
		if err := runAPIServer(*optPort); err != nil {
			fmt.Fprintf(os.Stderr, "rvm: %v\n", err)
			os.Exit(1)
		}
		return
	}

	lm, err := loader.Load(mc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvm: failed to load machine: %v\n", err)
		os.Exit(1)
	}
	defer lm.Close()

	session := service.NewSession(lm)

	switch {
	case *optDebug:
		dbg := debugger.NewDebugger(session)
		if err := debugger.RunCLI(dbg); err != nil {
			fmt.Fprintf(os.Stderr, "rvm: debugger error: %v\n", err)
			os.Exit(1)
		}
	case *optTUI:
		dbg := debugger.NewDebugger(session)
		if err := debugger.RunTUI(dbg); err != nil {
			fmt.Fprintf(os.Stderr, "rvm: debugger error: %v\n", err)
			os.Exit(1)
		}
	case mc.Interactive:
		go runDirect(session, *optCycles, *optVerbose)
		if err := runConsole(session); err != nil {
			fmt.Fprintf(os.Stderr, "rvm: console error: %v\n", err)
			os.Exit(1)
		}
	default:
		runDirect(session, *optCycles, *optVerbose)
	}
}

func loadConfig(path string) (*config.MachineConfig, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// runDirect executes the machine with no debugger attached, printing a
// progress line every 1000 cycles when verbose and a final register/commitment
// dump once the machine halts, yields, reaches the cycle target, or errors.
func runDirect(session *service.Session, targetMcycle uint64, verbose bool) {
	var onProgress func(service.RegisterState)
	if verbose {
		onProgress = func(regs service.RegisterState) {
			fmt.Printf("pc=0x%016X mcycle=%d\n", regs.PC, regs.Mcycle)
		}
	}

	state, err := session.Run(targetMcycle, onProgress)
	regs := session.Registers()
	root := session.GetRootHash()

	fmt.Printf("state: %s\n", state)
	fmt.Printf("pc: 0x%016X  mcycle: %d  minstret: %d\n", regs.PC, regs.Mcycle, regs.Minstret)
	fmt.Printf("root hash: %s\n", hex.EncodeToString(root[:]))

	if console := session.DrainConsole(); len(console) > 0 {
		fmt.Printf("console output:\n%s\n", console)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "rvm: runtime error: %v\n", err)
		os.Exit(1)
	}
}

// runAPIServer starts the monitor API and blocks until SIGINT/SIGTERM,
// then drains in-flight requests before exiting.
func runAPIServer(port int) error {
	server := api.NewServer(port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Printf("rvm monitor API listening on :%d\n", port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println("rvm: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// runConsole is a line-edited interactive console over a session's HTIF
// stdin/stdout, used when the machine config marks the session interactive
// and no tview debugger is attached. The machine itself runs concurrently
// in runDirect; this loop only shuttles keystrokes and console drain.
func runConsole(session *service.Session) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("rvm> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return err
		}
		line.AppendHistory(input)
		session.FeedConsole([]byte(input + "\n"))

		if out := session.DrainConsole(); len(out) > 0 {
			fmt.Print(string(out))
		}
	}
}
