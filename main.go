// main.go is the fluxtask entry point. It loads .env, runs the command tree
// and exits with the code the command chose:
//
//	0   success
//	1   usage or configuration error
//	3   the remote task failed and the blank placeholder was written instead
//	130 interrupted (SIGINT)
//	143 terminated (SIGTERM)
package main

import (
	"fmt"
	"io"
	"os"

	"fluxtask/core"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		return core.ExitCodeError
	}
	return a.exitCode
}
