// Package signing provides the identity capability the producer consumes:
// something that signs a Data packet, plus a verification helper for the
// trust component on the consuming side.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// ErrNoCredential is returned when a signer has no usable signing key.
var ErrNoCredential = errors.New("signing: no usable signing credential")

// Signer signs a Data packet in place, filling in its SignatureInfo and
// SignatureValue. Implementations must be safe for concurrent use.
type Signer interface {
	Sign(d *ndn.Data) error
}

// KeySigner signs with a private key identified by an identity key name,
// which is recorded as the packet's KeyLocator.
type KeySigner struct {
	keyName ndn.Name
	key     crypto.Signer
	sigType ndn.SignatureType
}

// NewKeySigner wraps key. Supported keys are ECDSA, RSA and Ed25519.
func NewKeySigner(keyName ndn.Name, key crypto.Signer) (*KeySigner, error) {
	if key == nil {
		return nil, ErrNoCredential
	}
	if len(keyName) == 0 {
		return nil, fmt.Errorf("signing: key name is required")
	}

	var sigType ndn.SignatureType
	switch key.Public().(type) {
	case *ecdsa.PublicKey:
		sigType = ndn.SignatureSha256WithEcdsa
	case *rsa.PublicKey:
		sigType = ndn.SignatureSha256WithRsa
	case ed25519.PublicKey:
		sigType = ndn.SignatureEd25519
	default:
		return nil, fmt.Errorf("signing: unsupported key type %T", key.Public())
	}

	return &KeySigner{keyName: keyName, key: key, sigType: sigType}, nil
}

// KeyName returns the identity key name used as KeyLocator.
func (s *KeySigner) KeyName() ndn.Name {
	return s.keyName
}

// Public returns the public half of the signing key.
func (s *KeySigner) Public() crypto.PublicKey {
	return s.key.Public()
}

// SignatureType returns the signature type this signer emits.
func (s *KeySigner) SignatureType() ndn.SignatureType {
	return s.sigType
}

// Sign implements Signer.
func (s *KeySigner) Sign(d *ndn.Data) error {
	d.SignatureInfo = ndn.SignatureInfo{Type: s.sigType, KeyLocator: s.keyName}
	d.SignatureValue = nil

	portion, err := d.SignedPortion()
	if err != nil {
		return err
	}

	var sig []byte
	if s.sigType == ndn.SignatureEd25519 {
		sig, err = s.key.Sign(rand.Reader, portion, crypto.Hash(0))
	} else {
		digest := sha256.Sum256(portion)
		sig, err = s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		return fmt.Errorf("failed to sign %s with %s: %w", d.Name, s.keyName, err)
	}
	d.SignatureValue = sig
	return nil
}

// DigestSigner attaches a SHA-256 digest instead of a signature. It
// provides integrity only and needs no credential.
type DigestSigner struct{}

// Sign implements Signer.
func (DigestSigner) Sign(d *ndn.Data) error {
	d.SignatureInfo = ndn.SignatureInfo{Type: ndn.SignatureDigestSha256}
	d.SignatureValue = nil

	portion, err := d.SignedPortion()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(portion)
	d.SignatureValue = digest[:]
	return nil
}
