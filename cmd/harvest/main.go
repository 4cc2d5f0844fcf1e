// File: cmd/harvest/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/xkilldash9x/receipt-harvester/cmd"
	"github.com/xkilldash9x/receipt-harvester/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables replaced in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Launched without arguments (e.g. from a file manager) means a full run.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}

	// The operator's "abort" is the only way to stop a run early.
	if err := cmd.Execute(context.Background()); err != nil {
		osExit(1)
	}
}

// handlePanic records a crash in panic.log so the operator can send it in.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}

	fmt.Fprintf(os.Stderr, "\n----------------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "The harvester crashed. Details were written to %s\n", panicLogFile)
	fmt.Fprintf(os.Stderr, "Receipts saved before the crash are kept in the run directory.\n")
	fmt.Fprintf(os.Stderr, "----------------------------------------------------------------\n")
	osExit(2)
}
