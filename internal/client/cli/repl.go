package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// command is one REPL verb. Commands with needsLogin are hidden and refused
// until a session exists.
type command struct {
	name       string
	usage      string
	needsLogin bool
	run        func(ctx context.Context, args []string) error
}

// execIface is the surface the REPL drives. App satisfies it; tests can
// provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	commands() []command
}

func helpLine(a execIface) string {
	names := make([]string, 0)
	for _, c := range a.commands() {
		if !c.needsLogin || a.isLoggedIn() {
			names = append(names, c.usage)
		}
	}
	return "Available commands: " + strings.Join(names, ", ") + ", help, exit"
}

// runREPL reads a line at a time, dispatches the first token to the
// matching command and prints its error, if any. It returns on EOF or
// "exit"/"quit". Commands prompt through the same reader.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("idk %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "help":
			printlnFn(helpLine(a))
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		found := false
		for _, c := range a.commands() {
			if c.name != name {
				continue
			}
			found = true
			if c.needsLogin && !a.isLoggedIn() {
				printlnFn("Please login first")
				break
			}
			if err := c.run(ctx, args); err != nil {
				printlnFn("Error:", err)
			}
			break
		}
		if !found {
			printlnFn("Unknown command:", name)
		}
	}
}
