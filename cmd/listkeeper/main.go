package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bskygeo/listkeeper/commands"
	"github.com/bskygeo/listkeeper/log"
)

func main() {
	cmd := commands.Root()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New("listkeeper")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		stop()
		os.Exit(1)
	}
}
