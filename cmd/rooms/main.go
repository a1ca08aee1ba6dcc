// Package main starts the rooms real-time service and handles termination.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	roomscmd "github.com/louisbranch/breakpoint/internal/cmd/rooms"
	"github.com/louisbranch/breakpoint/internal/platform/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := roomscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnFlagError(err)
	log.SetPrefix("[ROOMS] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := roomscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
