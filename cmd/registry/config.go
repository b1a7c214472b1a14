package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the registry configuration. Values come from the
// environment first; command-line flags override them.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string `env:"VERISTAMP_DATA" envDefault:"./data"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `env:"VERISTAMP_HTTP" envDefault:":8080"`

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string `env:"VERISTAMP_KEY"`

	// KeyringDir holds retained public keys (*.pub) from rotated-out
	// signers, so old snapshots stay verifiable.
	KeyringDir string `env:"VERISTAMP_KEYRING"`

	// App is the application tag stamped on ledger transactions.
	App string `env:"VERISTAMP_APP" envDefault:"veristamp"`

	// Prefix is the object store key prefix.
	Prefix string `env:"VERISTAMP_PREFIX" envDefault:"veristamp"`

	// Bucket is the object store bucket, used in gateway mode.
	Bucket string `env:"VERISTAMP_BUCKET" envDefault:"snapshots"`

	// StoreURL is the object store gateway endpoint. Empty selects the
	// local store under DataPath.
	StoreURL string `env:"VERISTAMP_STORE_URL"`

	// LedgerURL is the ledger gateway endpoint. Empty selects an
	// in-process ledger, for development only.
	LedgerURL string `env:"VERISTAMP_LEDGER_URL"`

	// Compress stores snapshot blobs gzip-compressed.
	Compress bool `env:"VERISTAMP_GZIP" envDefault:"true"`

	// Snapshots enables the automation loop that builds and publishes
	// due batches.
	Snapshots bool `env:"VERISTAMP_SNAPSHOTS" envDefault:"true"`

	// SnapshotInterval is the automation sweep interval.
	SnapshotInterval time.Duration `env:"VERISTAMP_SNAPSHOT_INTERVAL" envDefault:"30s"`

	// ManifestMaxAge bounds snapshot staleness in the integrity audit.
	ManifestMaxAge time.Duration `env:"VERISTAMP_MANIFEST_MAX_AGE" envDefault:"24h"`

	// NTPServer enables the audit clock-drift check when set.
	NTPServer string `env:"VERISTAMP_NTP_SERVER"`

	// MaxDrift bounds tolerated clock offset against NTPServer.
	MaxDrift time.Duration `env:"VERISTAMP_MAX_DRIFT" envDefault:"2s"`

	// PrivateKey is the registry's Ed25519 signing key.
	PrivateKey ed25519.PrivateKey `env:"-"`
}

// parseConfig loads the environment configuration and applies flag
// overrides on top.
func parseConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment:\n%w", err)
	}

	flag.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "HTTP API address")
	flag.StringVar(&cfg.KeyPath, "key", cfg.KeyPath, "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.KeyringDir, "keyring", cfg.KeyringDir, "Directory of retained public keys")
	flag.StringVar(&cfg.App, "app", cfg.App, "Ledger application tag")
	flag.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "Object store key prefix")
	flag.StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Object store bucket (gateway mode)")
	flag.StringVar(&cfg.StoreURL, "store-url", cfg.StoreURL, "Object store gateway URL (empty for local)")
	flag.StringVar(&cfg.LedgerURL, "ledger-url", cfg.LedgerURL, "Ledger gateway URL (empty for in-process)")
	flag.BoolVar(&cfg.Compress, "gzip", cfg.Compress, "Gzip snapshot blobs")
	flag.BoolVar(&cfg.Snapshots, "snapshots", cfg.Snapshots, "Enable snapshot automation")
	flag.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Snapshot automation sweep interval")
	flag.StringVar(&cfg.NTPServer, "ntp", cfg.NTPServer, "NTP server for the audit clock check")
	flag.Parse()

	return cfg, nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
