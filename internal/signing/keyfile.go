package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// LoadKeySigner reads a PEM private key (PKCS#8, SEC 1 EC or PKCS#1 RSA)
// from path and returns a signer for keyName.
func LoadKeySigner(path string, keyName ndn.Name) (*KeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key %s: %w", path, err)
	}
	return NewKeySigner(keyName, key)
}

// ParsePrivateKeyPEM decodes the first PEM block of data into a signing key.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrNoCredential)
	}

	var parsed interface{}
	var err error
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", ErrNoCredential, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T cannot sign", ErrNoCredential, parsed)
	}
	return signer, nil
}

// MarshalPrivateKeyPEM encodes key as a PKCS#8 PEM block.
func MarshalPrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// GenerateIdentity creates a fresh ECDSA P-256 identity signer for keyName.
func GenerateIdentity(keyName ndn.Name) (*KeySigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return NewKeySigner(keyName, key)
}

// PrivateKeyPEM returns the signer's private key as PKCS#8 PEM.
func (s *KeySigner) PrivateKeyPEM() ([]byte, error) {
	return MarshalPrivateKeyPEM(s.key)
}
