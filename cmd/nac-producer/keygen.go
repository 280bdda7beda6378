package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/producer"
	"github.com/kenneth/nac-producer/internal/signing"
)

type keygenOptions struct {
	name         string
	bits         int
	outDir       string
	identityKey  string
	identityName string
}

func newKeygenCmd() *cobra.Command {
	opts := &keygenOptions{}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key pair",
		Long: `Generate an RSA key pair for an ENC-KEY name. The private half is written
as dkey.pem (PKCS#8) and the public half as the E-KEY Data packet ekey.tlv.

With --identity-name and no --identity-key, a new ECDSA signing identity is
generated as well (identity.pem, and its public key as anchor.pem) and used
to sign the E-KEY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := runKeygen(opts)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", f)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "E-KEY name, e.g. /alice/ENC-KEY/1.")
	f.IntVar(&opts.bits, "bits", 2048, "RSA modulus size in bits.")
	f.StringVar(&opts.outDir, "out-dir", ".", "Output directory.")
	f.StringVar(&opts.identityKey, "identity-key", "", "Existing PEM signing key for the E-KEY.")
	f.StringVar(&opts.identityName, "identity-name", "", "Signing key name placed in the E-KEY KeyLocator.")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runKeygen(opts *keygenOptions) ([]string, error) {
	name, err := ndn.ParseName(opts.name)
	if err != nil {
		return nil, err
	}
	dkeyName, err := ndn.DecryptionKeyName(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, opts.bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	eKey, err := producer.NewEncryptionKeyData(name, &priv.PublicKey)
	if err != nil {
		return nil, err
	}

	var written []string
	signer, identityFiles, err := keygenSigner(opts)
	if err != nil {
		return nil, err
	}
	written = append(written, identityFiles...)
	if err := signer.Sign(eKey); err != nil {
		return nil, fmt.Errorf("failed to sign E-KEY: %w", err)
	}

	dkeyPEM, err := signing.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	dkeyPath := filepath.Join(opts.outDir, "dkey.pem")
	if err := os.WriteFile(dkeyPath, dkeyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", dkeyPath, err)
	}
	ekeyPath := filepath.Join(opts.outDir, "ekey.tlv")
	if err := writeWire(ekeyPath, eKey); err != nil {
		return nil, err
	}
	return append(written, dkeyPath+" ("+dkeyName.String()+")", ekeyPath+" ("+name.String()+")"), nil
}

// keygenSigner picks the E-KEY signer and writes any new identity files.
func keygenSigner(opts *keygenOptions) (signing.Signer, []string, error) {
	if opts.identityKey != "" {
		name, err := ndn.ParseName(opts.identityName)
		if err != nil {
			return nil, nil, err
		}
		s, err := signing.LoadKeySigner(opts.identityKey, name)
		return s, nil, err
	}
	if opts.identityName == "" {
		return signing.DigestSigner{}, nil, nil
	}

	name, err := ndn.ParseName(opts.identityName)
	if err != nil {
		return nil, nil, err
	}
	identity, err := signing.GenerateIdentity(name)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := identity.PrivateKeyPEM()
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(identity.Public())
	if err != nil {
		return nil, nil, err
	}

	keyPath := filepath.Join(opts.outDir, "identity.pem")
	anchorPath := filepath.Join(opts.outDir, "anchor.pem")
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, nil, fmt.Errorf("failed to write %s: %w", keyPath, err)
	}
	anchorPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(anchorPath, anchorPEM, 0o644); err != nil {
		return nil, nil, fmt.Errorf("failed to write %s: %w", anchorPath, err)
	}
	return identity, []string{keyPath, anchorPath}, nil
}
