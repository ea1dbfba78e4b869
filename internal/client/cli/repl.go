package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

var errUnknownCommand = errors.New("unknown command")

const helpText = "Available commands: init, put <path> [tags], get <id> [dest], (l)s, rm <id>, tags, logout, exit"

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, args []string) error
	Get(ctx context.Context, args []string) error
	List(ctx context.Context) error
	Remove(ctx context.Context, args []string) error
	Tags(ctx context.Context) error
	Logout(ctx context.Context) error
}

// dispatch runs one command. It is shared by the REPL and one-shot
// invocations such as "client put report.pdf".
func dispatch(ctx context.Context, a execIface, cmd string, args []string) error {
	switch cmd {
	case "init":
		return a.Init(ctx)
	case "put":
		return a.Put(ctx, args)
	case "get":
		return a.Get(ctx, args)
	case "l", "ls", "list":
		return a.List(ctx)
	case "rm", "delete":
		return a.Remove(ctx, args)
	case "tags":
		return a.Tags(ctx)
	case "logout":
		return a.Logout(ctx)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}
}

// runREPL reads commands from scanner until EOF, "exit", "quit" or a
// successful "logout". Command errors are printed and do not stop the loop.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("fv %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			err := dispatch(ctx, a, cmd, args)
			if err != nil {
				printlnFn("error:", err)
				continue
			}
			if cmd == "logout" {
				return
			}
		}
	}
}
