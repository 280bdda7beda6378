package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// ErrInvalidSignature is returned when a packet's signature does not verify.
var ErrInvalidSignature = errors.New("signing: invalid signature")

// Verify checks the signature of d against pub. DigestSha256 packets need
// no key and verify only when pub is nil; a digest proves nothing about
// the signer, so it never satisfies a key. The producer never calls Verify; consumers
// must run it on a key object before trusting what ParseEKeyData returns.
func Verify(d *ndn.Data, pub crypto.PublicKey) error {
	if !d.IsSigned() {
		return fmt.Errorf("%w: %s is unsigned", ErrInvalidSignature, d.Name)
	}
	portion, err := d.SignedPortion()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(portion)

	switch d.SignatureInfo.Type {
	case ndn.SignatureDigestSha256:
		if pub != nil {
			return fmt.Errorf("%w: %s carries only a digest, a key signature is required", ErrInvalidSignature, d.Name)
		}
		if subtle.ConstantTimeCompare(digest[:], d.SignatureValue) != 1 {
			return fmt.Errorf("%w: digest mismatch for %s", ErrInvalidSignature, d.Name)
		}
		return nil

	case ndn.SignatureSha256WithRsa:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s needs an RSA key, got %T", ErrInvalidSignature, d.Name, pub)
		}
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], d.SignatureValue); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, d.Name)
		}
		return nil

	case ndn.SignatureSha256WithEcdsa:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s needs an ECDSA key, got %T", ErrInvalidSignature, d.Name, pub)
		}
		if !ecdsa.VerifyASN1(key, digest[:], d.SignatureValue) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, d.Name)
		}
		return nil

	case ndn.SignatureEd25519:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s needs an Ed25519 key, got %T", ErrInvalidSignature, d.Name, pub)
		}
		if !ed25519.Verify(key, portion, d.SignatureValue) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, d.Name)
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported signature type %s", ErrInvalidSignature, d.SignatureInfo.Type)
	}
}
