package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Veristamp/internal/api"
	"Veristamp/internal/keys"
	"Veristamp/internal/ledger"
	"Veristamp/internal/logger"
	"Veristamp/internal/objstore"
	"Veristamp/internal/registry"
	"Veristamp/internal/store"
)

// Service is a running registry daemon.
type Service struct {
	cfg      *Config
	manager  *keys.Manager
	ring     *keys.Ring
	store    *store.Store
	local    *objstore.Local // local is set when running without a store gateway
	objects  objstore.Client
	ledger   ledger.Client
	registry *registry.Registry
	api      *api.Server
	runner   *registry.Runner
}

// NewService creates and initializes a registry daemon.
func NewService(cfg *Config) (*Service, error) {
	s := &Service{cfg: cfg}

	if err := s.initKeys(); err != nil {
		return nil, err
	}

	if err := s.initStore(); err != nil {
		return nil, err
	}

	if err := s.initObjects(); err != nil {
		s.Close()
		return nil, err
	}

	s.initLedger()

	if err := s.initRegistry(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// initKeys initializes the signing key manager and the verification ring.
func (s *Service) initKeys() error {
	manager, err := keys.NewManager(s.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("init signing key:\n%w", err)
	}

	ring := keys.NewRing()
	if _, err := ring.Add(manager.PublicKey()); err != nil {
		return fmt.Errorf("add own key to ring:\n%w", err)
	}

	if s.cfg.KeyringDir != "" {
		if err := ring.LoadDir(s.cfg.KeyringDir); err != nil {
			return fmt.Errorf("load keyring:\n%w", err)
		}
	}

	s.manager = manager
	s.ring = ring

	return nil
}

// initStore initializes the Pebble-backed proof store.
func (s *Service) initStore() error {
	if err := os.MkdirAll(s.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	st, err := store.Open(s.cfg.DataPath + "/db")
	if err != nil {
		return fmt.Errorf("init store:\n%w", err)
	}

	s.store = st

	return nil
}

// initObjects initializes the primary object store.
func (s *Service) initObjects() error {
	if s.cfg.StoreURL == "" {
		local, err := objstore.NewLocal(s.cfg.DataPath + "/objects")
		if err != nil {
			return fmt.Errorf("init local object store:\n%w", err)
		}

		s.local = local
		s.objects = local

		return nil
	}

	s.objects = objstore.NewGateway(s.cfg.StoreURL, s.cfg.Bucket)

	return nil
}

// initLedger initializes the ledger client. Without a gateway URL the
// daemon falls back to an in-process ledger, which anchors nothing
// externally and only suits development.
func (s *Service) initLedger() {
	if s.cfg.LedgerURL == "" {
		s.ledger = ledger.NewMemory()
		return
	}

	s.ledger = ledger.NewGateway(s.cfg.LedgerURL, s.manager)
}

// initRegistry assembles the registry facade.
func (s *Service) initRegistry() error {
	reg, err := registry.New(s.manager, s.ring, s.store, s.objects, s.ledger, registry.Config{
		App:         s.cfg.App,
		Prefix:      s.cfg.Prefix,
		Compress:    s.cfg.Compress,
		AuditMaxAge: s.cfg.ManifestMaxAge,
		NTPServer:   s.cfg.NTPServer,
		MaxDrift:    s.cfg.MaxDrift,
	})
	if err != nil {
		return fmt.Errorf("init registry:\n%w", err)
	}

	s.registry = reg

	return nil
}

// Run starts the HTTP API and the snapshot automation, then blocks until
// a shutdown signal arrives.
func (s *Service) Run() error {
	s.api = api.New(s.cfg.HTTPAddress, s.registry)
	if err := s.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	if s.cfg.Snapshots {
		s.runner = registry.NewRunner(s.registry, s.cfg.SnapshotInterval)
		s.runner.Start()
	}

	return s.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the service.
func (s *Service) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return s.Close()
}

// Close stops everything in reverse initialization order.
func (s *Service) Close() error {
	if s.api != nil {
		s.api.Stop()
	}

	if s.runner != nil {
		s.runner.Stop()
	}

	if s.local != nil {
		s.local.Close()
	}

	if s.store != nil {
		s.store.Close()
	}

	return nil
}
