package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/offtube/offtube/internal"
	"github.com/offtube/offtube/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. The user configuration is loaded
// from the path given by -config (or the OFFTUBE_CONFIG env var), falling
// back to environment variables alone if no file exists.
func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.DEBUG.Level())
	}

	config := internal.OfftubeConfig{}
	if _, err := os.Stat(*configPath); err == nil {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		log.Emit(logger.WARNING, "No config file found at %s, using environment and defaults\n", *configPath)
		if err := config.LoadFromEnv(); err != nil {
			log.Emit(logger.FATAL, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Offtube stopped: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Offtube shut down\n")
}

func defaultConfigPath() string {
	if fromEnv := os.Getenv("OFFTUBE_CONFIG"); fromEnv != "" {
		return fromEnv
	}

	return "offtube.yaml"
}
