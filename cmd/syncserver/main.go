// Command syncserver is the reference sync server for balli memory
// records.
//
//	syncserver [-c config.json] [-a addr] [-d dsn] [-k secret]
//	syncserver -issue <userID>   print a bearer token and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/balli/internal/flagx"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/server"
	"github.com/dmitrijs2005/balli/internal/server/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return err
	}

	var issue string
	fs := flag.NewFlagSet("syncserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&issue, "issue", "", "print a token for this user id and exit")
	if err := flagx.ParseKnown(fs, args); err != nil {
		return err
	}
	if issue != "" {
		tok, err := server.IssueToken(cfg, issue)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logger := logging.New(cfg.Logging()).With("app", "syncserver")
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
