package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"parceltrack/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	a, closeFn, err := buildAuditor(cfg, defaultAuditorFactories())
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runAuditorHTTPServer(ctx, auditorHTTPOpts{
			httpAddr:    cfg.ParcelTrack.AuditorHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			auditor:     a,
			cfg:         cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	case err := <-httpErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	}
}
