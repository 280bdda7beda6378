package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenneth/nac-producer/internal/config"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/producer"
)

type produceOptions struct {
	name         string
	ekeyPath     string
	inPath       string
	outDir       string
	identityKey  string
	identityName string
	freshness    time.Duration
}

func newProduceCmd() *cobra.Command {
	opts := &produceOptions{}
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Encrypt a file into a content object and a key object",
		Long: `Encrypt a file for an E-KEY and write the two resulting Data packets
as content.tlv and key.tlv in the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			contentName, keyName, err := runProduce(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "content: %s\nkey:     %s\n", contentName, keyName)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "Content name, e.g. /alice/photo1.")
	f.StringVar(&opts.ekeyPath, "ekey", "", "Path to the E-KEY Data packet in wire form.")
	f.StringVar(&opts.inPath, "in", "", "File holding the plaintext.")
	f.StringVar(&opts.outDir, "out-dir", ".", "Directory for content.tlv and key.tlv.")
	f.StringVar(&opts.identityKey, "identity-key", "", "PEM signing key. Objects get a digest signature when empty.")
	f.StringVar(&opts.identityName, "identity-name", "", "Key name placed in the KeyLocator of signed objects.")
	f.DurationVar(&opts.freshness, "freshness", time.Hour, "Freshness period of the produced objects.")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("ekey")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func runProduce(opts *produceOptions) (ndn.Name, ndn.Name, error) {
	name, err := ndn.ParseName(opts.name)
	if err != nil {
		return nil, nil, err
	}
	eKeyData, err := readWire(opts.ekeyPath)
	if err != nil {
		return nil, nil, err
	}
	keyName, der, err := producer.ParseEncryptionKeyData(eKeyData)
	if err != nil {
		return nil, nil, err
	}
	payload, err := os.ReadFile(opts.inPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", opts.inPath, err)
	}

	identity := config.IdentityConfig{Mode: "digest"}
	if opts.identityKey != "" {
		identity = config.IdentityConfig{Mode: "key", KeyFile: opts.identityKey, KeyName: opts.identityName}
	}
	signer, err := buildSigner(identity)
	if err != nil {
		return nil, nil, err
	}
	p, err := producer.New(signer, producer.WithFreshnessPeriod(opts.freshness))
	if err != nil {
		return nil, nil, err
	}

	content, key, err := p.Produce(name, payload, keyName, der)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeWire(filepath.Join(opts.outDir, "content.tlv"), content); err != nil {
		return nil, nil, err
	}
	if err := writeWire(filepath.Join(opts.outDir, "key.tlv"), key); err != nil {
		return nil, nil, err
	}
	return content.Name, key.Name, nil
}
