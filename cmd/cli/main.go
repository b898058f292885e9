package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/circle/internal/buildinfo"
	"github.com/dmitrijs2005/circle/internal/client/cli"
	"github.com/dmitrijs2005/circle/internal/client/config"
	"github.com/dmitrijs2005/circle/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg, logging.NewText(os.Stderr, slog.LevelWarn))

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
