package main

import (
	"fmt"
	"os"

	"Veristamp/internal/logger"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := parseConfig()
	if err != nil {
		return fmt.Errorf("load config:\n%w", err)
	}

	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	service, err := NewService(cfg)
	if err != nil {
		return fmt.Errorf("create service:\n%w", err)
	}

	printStartupInfo(cfg, service)

	return service.Run()
}

// printStartupInfo displays the registry configuration at startup.
func printStartupInfo(cfg *Config, service *Service) {
	logger.Info("starting veristamp registry",
		"fingerprint", service.registry.Fingerprint(),
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"app", cfg.App,
		"snapshots", cfg.Snapshots,
	)

	if cfg.StoreURL == "" {
		logger.Info("object store", "mode", "local")
	} else {
		logger.Info("object store", "mode", "gateway", "url", cfg.StoreURL, "bucket", cfg.Bucket)
	}

	if cfg.LedgerURL == "" {
		logger.Warn("using in-process ledger: anchors will not leave this machine")
	} else {
		logger.Info("ledger", "url", cfg.LedgerURL)
	}
}
