package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceres-media/ceres/internal"
	"github.com/ceres-media/ceres/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. The user's configuration is
// loaded from the path provided (or the default), and Ceres is run until
// an interrupt is received or an unrecoverable error occurs.
func main() {
	configPath := flag.String("config", "/config/ceres.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose log output")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	} else {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}

	config := internal.CeresConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go listenForInterrupt(cancel)

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Ceres stopped due to error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Ceres shutdown complete\n")
}

func listenForInterrupt(cancel context.CancelFunc) {
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)

	<-exitChannel
	log.Emit(logger.INFO, "Interrupt detected!\n")
	cancel()
}
