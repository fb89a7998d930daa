// provify tracks application bug reports and verifies them by reproducing
// each one on every connected device.
//
// Usage:
//
//	provify serve [--addr=:8000]
//	provify mcp
//	provify repl
//	provify add --app <name> [--package <id>] <description>
//	provify import <file.json|file.yaml> [--queue]
//	provify list [--status <status>] [--app <package>]
//	provify verify <id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		stop()
		os.Exit(1)
	}
}
