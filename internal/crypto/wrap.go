package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
)

const (
	// AlgorithmRSAOAEPSHA256 names the key wrapping scheme.
	AlgorithmRSAOAEPSHA256 = "RSA-OAEP-SHA256"

	// MinRSAKeyBits is the smallest modulus accepted for wrapping.
	MinRSAKeyBits = 2048

	// MaxRSAKeyBits is the largest modulus accepted for wrapping.
	MaxRSAKeyBits = 8192
)

var (
	// ErrUnwrap is the single error returned when a wrapped key cannot be recovered.
	ErrUnwrap = errors.New("crypto: key unwrap failed")

	// ErrInvalidPublicKey is returned for unparsable or unacceptable public keys.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")

	// ErrInvalidPrivateKey is returned for unparsable or unacceptable private keys.
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")
)

// KeyWrapper encrypts content keys under RSA public keys with OAEP
// (SHA-256, MGF1-SHA-256, empty label). The wrapped key is always exactly
// the modulus length of the public key.
type KeyWrapper struct {
	random io.Reader
}

// NewKeyWrapper returns a wrapper drawing OAEP seeds from random, or from
// crypto/rand when random is nil.
func NewKeyWrapper(random io.Reader) *KeyWrapper {
	if random == nil {
		random = rand.Reader
	}
	return &KeyWrapper{random: random}
}

// WrapKey encrypts key under pub.
func (w *KeyWrapper) WrapKey(key *SymmetricKey, pub *rsa.PublicKey) ([]byte, error) {
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrInvalidKeySize
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), w.random, pub, key.Bytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap content key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey recovers a content key wrapped by WrapKey. Every failure
// returns ErrUnwrap; the recovered length is checked only after OAEP
// decryption has run.
func UnwrapKey(envelope []byte, priv *rsa.PrivateKey) (*SymmetricKey, error) {
	if priv == nil || len(envelope) != priv.Size() {
		return nil, ErrUnwrap
	}
	raw, err := rsa.DecryptOAEP(sha256.New(), nil, priv, envelope, nil)
	if err != nil {
		return nil, ErrUnwrap
	}
	key, err := SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, ErrUnwrap
	}
	return key, nil
}

var defaultKeyWrapper = NewKeyWrapper(nil)

// WrapKey encrypts key under pub with the default wrapper.
func WrapKey(key *SymmetricKey, pub *rsa.PublicKey) ([]byte, error) {
	return defaultKeyWrapper.WrapKey(key, pub)
}

// ValidatePublicKey checks that pub is an RSA key of acceptable size.
func ValidatePublicKey(pub *rsa.PublicKey) error {
	if pub == nil || pub.N == nil {
		return fmt.Errorf("%w: missing key", ErrInvalidPublicKey)
	}
	bits := pub.N.BitLen()
	if bits < MinRSAKeyBits || bits > MaxRSAKeyBits {
		return fmt.Errorf("%w: %d-bit modulus outside [%d, %d]", ErrInvalidPublicKey, bits, MinRSAKeyBits, MaxRSAKeyBits)
	}
	if pub.E < 3 || pub.E&1 == 0 {
		return fmt.Errorf("%w: bad public exponent", ErrInvalidPublicKey)
	}
	return nil
}

// ValidWrappedKeyLength reports whether n is a possible wrapped key length
// for an acceptable modulus.
func ValidWrappedKeyLength(n int) bool {
	return n >= MinRSAKeyBits/8 && n <= MaxRSAKeyBits/8
}

// ParsePublicKey parses a DER-encoded RSA public key in PKIX
// SubjectPublicKeyInfo or PKCS#1 form and validates it.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	var pub *rsa.PublicKey
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
		}
		pub = rsaPub
	} else if rsaPub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		pub = rsaPub
	} else {
		return nil, fmt.Errorf("%w: unrecognized encoding", ErrInvalidPublicKey)
	}
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

// MarshalPublicKey returns the PKIX DER form of pub.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePrivateKey parses a DER-encoded RSA private key in PKCS#8 or PKCS#1 form.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	var priv *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaPriv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPrivateKey)
		}
		priv = rsaPriv
	} else if rsaPriv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		priv = rsaPriv
	} else {
		return nil, fmt.Errorf("%w: unrecognized encoding", ErrInvalidPrivateKey)
	}
	if err := ValidatePublicKey(&priv.PublicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return priv, nil
}
