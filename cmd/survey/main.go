package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"surveycmi/internal/app"
	"surveycmi/internal/console"
	"surveycmi/internal/survey"
)

func main() {
	app.LoadDotEnv()
	cfg, _, err := app.ParseClientFlags("survey", os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "survey: ", log.LstdFlags)
	store, err := app.OpenProgressStore(ctx, cfg)
	if err != nil {
		logger.Printf("progress store error: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	client := app.NewAPIClient(cfg)
	machine := survey.NewMachine(survey.Config{
		Store:     store,
		Submitter: client,
		Logger:    logger,
	})

	logger.Printf("using %s progress store, slot %q, api %s", cfg.StoreKind, cfg.ProgressSlot, cfg.APIURL)
	if err := console.NewTaker(machine, client, os.Stdin, os.Stdout).Run(ctx); err != nil {
		logger.Printf("input error: %v", err)
		os.Exit(1)
	}
}
