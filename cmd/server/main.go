package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/mediavault/internal/server"
	"github.com/dmitrijs2005/mediavault/internal/server/config"
	"github.com/joho/godotenv"
)

func main() {

	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
