package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	logger.Init(cfg.LogLevel)

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wait for termination signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
