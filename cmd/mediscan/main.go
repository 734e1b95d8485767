package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mediscan/internal/app"
	"github.com/dmitrijs2005/mediscan/internal/config"
	"github.com/dmitrijs2005/mediscan/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg := config.LoadConfig()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
