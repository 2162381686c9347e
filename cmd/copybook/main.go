package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/scott-cotton/cli"
)

func main() {
	// A .env file only fills in variables the environment leaves unset.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cli.MainContext(ctx, MainCommand(ctx))
}
