package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/dmitrijs2005/balli/internal/client/cli"
	"github.com/dmitrijs2005/balli/internal/client/config"
	"github.com/dmitrijs2005/balli/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.New(cfg.Logging()).With("app", "balli")
	app, err := cli.NewApp(ctx, cfg, logger, cli.Deps{})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	app.Run(ctx)
}
