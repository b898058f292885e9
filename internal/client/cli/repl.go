package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Key(ctx context.Context, args []string) error
	Conv(ctx context.Context, args []string) error
	Use(ctx context.Context, args []string) error
	Say(ctx context.Context, text string) error
	History(ctx context.Context, args []string) error
	Read(ctx context.Context, args []string) error
	Typing(ctx context.Context) error
	Upload(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Files(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Status(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: register, login, exit"
	helpLoggedIn  = `Available commands:
  key new | key import <hex> | key export
  conv new <direct|group> <name> <participants...> | conv list
  use <conversationId>
  say <text> | history [limit] [beforeId] | read <messageId> | typing
  upload <path> [private|conversation|public] | download <fileId> <path>
  files [here] | rm <fileId>
  status | logout | exit`
)

// runREPL starts a simple read–eval–print loop for the Circle CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. The loop exits on scanner EOF
// or when the user types "exit" or "quit". Handler errors are printed and
// the loop carries on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("circle %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		cmd, rest := splitCommand(scanner.Text())
		if cmd == "" {
			continue
		}
		args := strings.Fields(rest)

		if !a.isLoggedIn() {
			switch cmd {
			case "help", "register", "login", "exit", "quit":
			default:
				printlnFn("Please log in first. " + helpLoggedOut)
				continue
			}
		}

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}
		case "register":
			err = a.Register(ctx)
		case "login":
			err = a.Login(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "key":
			err = a.Key(ctx, args)
		case "conv":
			err = a.Conv(ctx, args)
		case "use":
			err = a.Use(ctx, args)
		case "say":
			if rest == "" {
				printlnFn("Usage: say <text>")
				continue
			}
			err = a.Say(ctx, rest)
		case "history":
			err = a.History(ctx, args)
		case "read":
			err = a.Read(ctx, args)
		case "typing":
			err = a.Typing(ctx)
		case "upload":
			err = a.Upload(ctx, args)
		case "download":
			err = a.Download(ctx, args)
		case "files":
			err = a.Files(ctx, args)
		case "rm":
			err = a.Remove(ctx, args)
		case "status":
			err = a.Status(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}
}

// splitCommand returns the first word of line and the untouched remainder.
func splitCommand(line string) (string, string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", ""
	}
	rest := strings.TrimPrefix(strings.TrimSpace(line), fields[0])
	return fields[0], strings.TrimSpace(rest)
}

type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }
