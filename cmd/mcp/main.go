package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/bme3412/clarity/internal/adapters/mcp"
	"github.com/bme3412/clarity/internal/bootstrap"
	"github.com/bme3412/clarity/internal/config"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewMCP(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(app.Tools, app.Answers, app.Logger, version)
	app.Logger.Info("mcp server on stdio")
	if err := srv.ServeStdio(); err != nil {
		app.Logger.Error("mcp server stopped", "error", err)
	}
}
