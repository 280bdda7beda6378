package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// AlgorithmAES256GCM names the content encryption scheme.
	AlgorithmAES256GCM = "AES256-GCM"

	// NonceSize is the GCM nonce length at the start of every envelope.
	NonceSize = 12

	// TagSize is the GCM authentication tag length at the end of every envelope.
	TagSize = 16

	// EnvelopeOverhead is the number of bytes an envelope adds to its plaintext.
	EnvelopeOverhead = NonceSize + TagSize
)

// ErrDecryption is the single error returned for any content envelope that
// cannot be opened: truncation, wrong key and tag mismatch all look alike.
var ErrDecryption = errors.New("crypto: content decryption failed")

// ContentCipher seals payloads into envelopes laid out as
//
//	[nonce: 12 bytes][ciphertext: len(plaintext)][tag: 16 bytes]
//
// using AES-256-GCM. A ContentCipher is safe for concurrent use when its
// random source is.
type ContentCipher struct {
	random io.Reader
}

// NewContentCipher returns a cipher drawing nonces from random, or from
// crypto/rand when random is nil.
func NewContentCipher(random io.Reader) *ContentCipher {
	if random == nil {
		random = rand.Reader
	}
	return &ContentCipher{random: random}
}

func newGCM(key *SymmetricKey) (cipher.AEAD, error) {
	if key == nil {
		return nil, ErrInvalidKeySize
	}
	raw := key.Bytes()
	if len(raw) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh random nonce.
func (c *ContentCipher) Encrypt(plaintext []byte, key *SymmetricKey) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content cipher: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(c.random, out); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Decrypt opens an envelope produced by Encrypt. Every failure returns
// ErrDecryption.
func (c *ContentCipher) Decrypt(envelope []byte, key *SymmetricKey) ([]byte, error) {
	if len(envelope) < EnvelopeOverhead {
		return nil, ErrDecryption
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryption
	}
	plaintext, err := gcm.Open(nil, envelope[:NonceSize], envelope[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

var defaultContentCipher = NewContentCipher(nil)

// Encrypt seals plaintext with the default cipher (crypto/rand nonces).
func Encrypt(plaintext []byte, key *SymmetricKey) ([]byte, error) {
	return defaultContentCipher.Encrypt(plaintext, key)
}

// Decrypt opens an envelope with the default cipher.
func Decrypt(envelope []byte, key *SymmetricKey) ([]byte, error) {
	return defaultContentCipher.Decrypt(envelope, key)
}
