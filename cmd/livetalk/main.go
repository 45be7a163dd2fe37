package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"livetalk/internal/bootstrap"
	"livetalk/internal/console"
)

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(bootstrap.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := console.NewPrinter(os.Stdout)
	services, err := bootstrap.Build(ctx, printer, console.NewCommandClipboard(nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "livetalk: %v\n", err)
		os.Exit(1)
	}

	runErr := console.Run(ctx, os.Stdin, services.Controller, printer)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := services.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown finished with errors")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("console input failed")
		os.Exit(1)
	}
}
