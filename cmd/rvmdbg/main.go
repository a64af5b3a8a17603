// Command rvmdbg is a debugger-only front end for rvm: it always loads a
// machine and drops straight into the CLI or TUI debugger, with no
// run-to-completion or monitor API mode.
package main

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/go-rvm/rvm/config"
	"github.com/go-rvm/rvm/debugger"
	"github.com/go-rvm/rvm/loader"
	"github.com/go-rvm/rvm/service"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Machine configuration file (TOML); defaults to the platform config path")
	optCLI := getopt.BoolLong("cli", 'l', "Use the line-oriented CLI debugger instead of the TUI")
	optHelp := getopt.BoolLong("help", 'h', "Show this help")

	getopt.SetParameters("[ram-image]")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var mc *config.MachineConfig
	var err error
	if *optConfig != "" {
		mc, err = config.LoadFrom(*optConfig)
	} else {
		mc, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvmdbg: %v\n", err)
		os.Exit(1)
	}

	if args := getopt.Args(); len(args) > 0 {
		mc.RAM.Image = args[0]
	}

	lm, err := loader.Load(mc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvmdbg: failed to load machine: %v\n", err)
		os.Exit(1)
	}
	defer lm.Close()

	dbg := debugger.NewDebugger(service.NewSession(lm))

	if *optCLI {
		err = debugger.RunCLI(dbg)
	} else {
		err = debugger.RunTUI(dbg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvmdbg: debugger error: %v\n", err)
		os.Exit(1)
	}
}
