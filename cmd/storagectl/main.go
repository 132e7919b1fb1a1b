package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mediavault/internal/ctl"
	"github.com/dmitrijs2005/mediavault/internal/server"
	"github.com/dmitrijs2005/mediavault/internal/server/config"
	"github.com/joho/godotenv"
)

func main() {

	_ = godotenv.Load()

	ctx := context.Background()
	open := func(ctx context.Context) (ctl.Backends, func() error, error) {
		app, err := server.NewApp(ctx, config.LoadFromEnv())
		if err != nil {
			return nil, nil, err
		}
		return app.Registry(), app.Close, nil
	}

	if err := ctl.NewApp(open, os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
