package main

import (
	"fmt"
	"os"

	"github.com/kenneth/nac-producer/internal/config"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/signing"
)

// loadConfig reads path, or starts from defaults when no file is given.
// Environment overrides apply either way.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSigner returns the signer for the configured identity.
func buildSigner(cfg config.IdentityConfig) (signing.Signer, error) {
	switch cfg.Mode {
	case "", "digest":
		return signing.DigestSigner{}, nil
	case "key":
		name, err := ndn.ParseName(cfg.KeyName)
		if err != nil {
			return nil, fmt.Errorf("invalid identity key name: %w", err)
		}
		return signing.LoadKeySigner(cfg.KeyFile, name)
	default:
		return nil, fmt.Errorf("unknown identity mode: %s", cfg.Mode)
	}
}

func writeWire(path string, d *ndn.Data) error {
	wire, err := d.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, wire, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readWire(path string) (*ndn.Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	d, err := ndn.DecodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return d, nil
}
