package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/tokenquota/internal/app"
	"github.com/router-for-me/tokenquota/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	var cfg config.AppConfig
	flag.StringVar(&cfg.ConfigPath, "config", "", "path to the YAML config file (default $QUOTA_CONFIG_PATH or config.yaml)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [serve|migrate]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command := flag.Arg(0); command {
	case "", "serve":
		err = app.RunServer(ctx, cfg)
	case "migrate":
		err = app.Migrate(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("quota service exited")
		stop()
		os.Exit(1)
	}
}
