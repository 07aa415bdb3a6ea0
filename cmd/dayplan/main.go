package main

import (
	"fmt"
	"os"

	"dayplan/internal/config"
	"dayplan/internal/coordinator"
	"dayplan/internal/storage"
	"dayplan/internal/ui"
)

func main() {
	cfg, err := config.LoadOrCreate(config.ResolveConfigPath())
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		fmt.Printf("failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	co := coordinator.New(store)
	defer co.Close()

	if err := ui.Run(co, cfg); err != nil {
		fmt.Printf("error running program: %v\n", err)
		os.Exit(1)
	}
}
