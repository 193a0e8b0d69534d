package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for REPL output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests use a stub.
type execIface interface {
	isUnlocked() bool
	Unlock(ctx context.Context) error
	LoginShare(ctx context.Context, args []string) error
	SetToken(ctx context.Context, args []string) error
	Readings(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Health(ctx context.Context) error
	Maintain(ctx context.Context) error
	Cache(ctx context.Context) error
	Med(ctx context.Context, args []string) error
	Remember(ctx context.Context, args []string) error
	Records(ctx context.Context, args []string) error
	Forget(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
}

const (
	helpLocked   = "Available commands: unlock, health, maintain, cache, med, remember, records, forget, exit"
	helpUnlocked = "Available commands: login share, token official|sync, (r)eadings [hours], sync, health, maintain, cache, med, remember, records, forget, logout, exit"
)

// needsVault lists commands that read or write credentials.
var needsVault = map[string]bool{
	"login": true, "token": true, "readings": true, "r": true, "sync": true, "logout": true,
}

// runREPL reads commands from in until EOF, "exit" or "quit". Handler
// errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, in *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("balli %s > ", statusFn()))
		line, err := in.ReadString('\n')
		parts := strings.Fields(line)
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}
		cmd, args := parts[0], parts[1:]

		if needsVault[cmd] && !a.isUnlocked() {
			printlnFn("Vault is locked, run unlock first")
			continue
		}

		var cmdErr error
		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn(helpUnlocked)
			} else {
				printlnFn(helpLocked)
			}
		case "unlock":
			cmdErr = a.Unlock(ctx)
		case "login":
			if len(args) == 0 || args[0] != "share" {
				printlnFn("Usage: login share [account]")
				continue
			}
			cmdErr = a.LoginShare(ctx, args[1:])
		case "token":
			cmdErr = a.SetToken(ctx, args)
		case "r", "readings":
			cmdErr = a.Readings(ctx, args)
		case "sync":
			cmdErr = a.Sync(ctx)
		case "health":
			cmdErr = a.Health(ctx)
		case "maintain":
			cmdErr = a.Maintain(ctx)
		case "cache":
			cmdErr = a.Cache(ctx)
		case "med":
			cmdErr = a.Med(ctx, args)
		case "remember":
			cmdErr = a.Remember(ctx, args)
		case "records":
			cmdErr = a.Records(ctx, args)
		case "forget":
			cmdErr = a.Forget(ctx, args)
		case "logout":
			cmdErr = a.Logout(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if cmdErr != nil {
			printlnFn("Error:", cmdErr)
		}
		if err != nil {
			return
		}
	}
}
