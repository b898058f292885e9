package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/circle/internal/buildinfo"
	"github.com/dmitrijs2005/circle/internal/server"
	"github.com/dmitrijs2005/circle/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
