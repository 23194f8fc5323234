// Command rta is a short alias for rtaudit. A leading .json argument is
// treated as "rtaudit check <files>".
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

func main() {
	bin, err := exec.LookPath("rtaudit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "rta: rtaudit not found on PATH")
		os.Exit(1)
	}
	if err := syscall.Exec(bin, rewriteArgs(os.Args[1:]), os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "rta: %v\n", err)
		os.Exit(1)
	}
}

func rewriteArgs(args []string) []string {
	argv := []string{"rtaudit"}
	if len(args) > 0 && filepath.Ext(args[0]) == ".json" {
		argv = append(argv, "check")
	}
	return append(argv, args...)
}
