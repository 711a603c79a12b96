package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/docuseek/qa-engine/internal/adapters/mcp"
	"github.com/docuseek/qa-engine/internal/bootstrap"
	"github.com/docuseek/qa-engine/internal/config"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(app.Search, app.Answer, app.Storage, app.Logger)
	if err := srv.ServeStdio(ctx, version); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
