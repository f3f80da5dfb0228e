// Command armhook is a manual smoke-test front end over hostdemo: it
// resolves a real libc symbol, hooks it with the ARM64 interception core,
// calls it a couple of times to show the enter/leave callbacks firing,
// then unhooks and exits. Flags follow the teacher's cmd/wazero
// convention (stdlib flag, a doMain(...) split out for testability)
// rather than a cobra/urfave-style CLI framework — no such library
// appears anywhere in the pack's Go-domain cmd/ trees.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ebitengine/purego"

	"github.com/oleavr/arm64interceptor/hostdemo"
	"github.com/oleavr/arm64interceptor/internal/hook"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated from main so tests can drive it without exiting
// the test process.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("armhook", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	library := flags.String("library", "libc.so.6", "shared library to resolve the target symbol from")
	symbol := flags.String("symbol", "malloc", "exported symbol to hook")
	size := flags.Uint64("arg", 32, "argument passed to the hooked function on each demo call (malloc's size_t)")
	calls := flags.Int("calls", 2, "number of times to call the hooked function during the demo")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	logger := log.New(stdErr, "armhook: ", 0)
	hostdemo.Logger = logger

	addr, err := hostdemo.ResolveSymbol(*library, *symbol)
	if err != nil {
		logger.Println(err)
		return 1
	}
	logger.Printf("resolved %s in %s at %#x", *symbol, *library, addr)

	h, err := hostdemo.NewHost()
	if err != nil {
		logger.Println(err)
		return 1
	}
	defer h.Close()

	fh, err := h.Hook(addr,
		func(cpu *hook.CpuContextView) {
			fmt.Fprintf(stdOut, "enter %s(x0=%#x)\n", *symbol, cpu.X(0))
		},
		func(cpu *hook.CpuContextView) {
			fmt.Fprintf(stdOut, "leave %s() -> x0=%#x\n", *symbol, cpu.X(0))
		},
	)
	if err != nil {
		logger.Println(err)
		return 1
	}
	defer func() {
		if err := h.Unhook(fh); err != nil {
			logger.Println(err)
		}
	}()

	var call func(uintptr) uintptr
	purego.RegisterFunc(&call, addr)

	for i := 0; i < *calls; i++ {
		result := call(uintptr(*size))
		fmt.Fprintf(stdOut, "call %d: %s(%d) = %#x\n", i, *symbol, *size, result)
	}

	return 0
}
