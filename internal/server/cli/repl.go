package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

const prompt = "rosepanel> "

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// commands maps each top-level command to its subcommands.
var commands = map[string][]string{
	"help":     nil,
	"exit":     nil,
	"clear":    nil,
	"cls":      nil,
	"sessions": {"list"},
	"server":   {"list", "create", "start", "stop", "delete"},
	"panel":    {"stop"},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// execIface is the command surface the REPL drives. Console implements it;
// tests provide a stub.
type execIface interface {
	ListSessions(ctx context.Context) error
	ListServers(ctx context.Context) error
	CreateServer(ctx context.Context) error
	StartServer(ctx context.Context, name string) error
	StopServer(ctx context.Context, name string) error
	DeleteServer(ctx context.Context, name string) error
	ConfirmExit() bool
}

// errLeave ends the REPL.
var errLeave = errors.New("leave")

// runREPL reads commands from reader until EOF, "exit" or "panel stop".
//
//	help                          show available commands
//	sessions list                 list active sessions
//	server list                   list managed servers
//	server create                 interactive server creation
//	server start|stop|delete <n>  act on a server by name or id
//	clear | cls                   clear the screen
//	panel stop | exit             shut the panel down
//
// Unrecognised input gets a closest-match suggestion which the operator may
// accept. Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, reader *bufio.Reader, w io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(w, prompt)
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		err = dispatch(ctx, a, parts)
		if errors.Is(err, errUnknown) {
			fixed, found := rephrase(parts)
			if !found {
				printlnFn(fail("Command not found: " + line))
				continue
			}
			if !Confirm(reader, hint("Did you mean: "+strings.Join(fixed, " ")+"?"), w) {
				continue
			}
			err = dispatch(ctx, a, fixed)
		}

		switch {
		case errors.Is(err, errLeave):
			printlnFn("Bye!")
			return
		case errors.Is(err, errUnknown):
			printlnFn(fail("Command not found: " + line))
		case err != nil:
			printlnFn(fail(describe(err)))
		}
	}
}

var errUnknown = errors.New("unknown command")

func dispatch(ctx context.Context, a execIface, parts []string) error {
	cmd, args := parts[0], parts[1:]
	sub, rest := "", []string(nil)
	if len(args) > 0 {
		sub, rest = args[0], args[1:]
	}

	switch cmd {
	case "help":
		printHelp()
		return nil

	case "clear", "cls":
		printlnFn("\033[H\033[2J")
		return nil

	case "exit":
		if a.ConfirmExit() {
			return errLeave
		}
		return nil

	case "panel":
		if sub == "stop" {
			return errLeave
		}

	case "sessions":
		if sub == "list" {
			return a.ListSessions(ctx)
		}

	case "server":
		name := strings.Join(rest, " ")
		switch sub {
		case "list":
			return a.ListServers(ctx)
		case "create":
			return a.CreateServer(ctx)
		case "start", "stop", "delete":
			if name == "" {
				printlnFn(hint("Usage: server " + sub + " <name|id>"))
				return nil
			}
		}
		switch sub {
		case "start":
			return a.StartServer(ctx, name)
		case "stop":
			return a.StopServer(ctx, name)
		case "delete":
			return a.DeleteServer(ctx, name)
		}
	}
	return errUnknown
}

func printHelp() {
	printlnFn("Available commands:")
	for _, name := range commandNames() {
		if subs := commands[name]; len(subs) > 0 {
			printlnFn("  " + name + " " + dim(strings.Join(subs, "|")))
		} else {
			printlnFn("  " + name)
		}
	}
}
