package crypto

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"
)

// SymmetricKeySize is the content key length in bytes (AES-256).
const SymmetricKeySize = 32

// ErrInvalidKeySize is returned when key material has the wrong length.
var ErrInvalidKeySize = errors.New("crypto: invalid symmetric key size")

// SymmetricKey is a scoped content key. The caller that obtains a key owns
// it and must call Destroy on every exit path; Destroy zeroes the backing
// buffer. Reading a destroyed key panics.
type SymmetricKey struct {
	mu        sync.Mutex
	buf       []byte
	pool      *SecretPool
	destroyed bool
}

func newSymmetricKey(pool *SecretPool) *SymmetricKey {
	if pool == nil {
		pool = globalSecretPool
	}
	return &SymmetricKey{buf: pool.GetKeyBuffer(), pool: pool}
}

// GenerateSymmetricKey reads a fresh key from random.
func GenerateSymmetricKey(random io.Reader) (*SymmetricKey, error) {
	return GenerateSymmetricKeyFromPool(random, nil)
}

// GenerateSymmetricKeyFromPool is GenerateSymmetricKey with the key backed
// by a buffer from pool. A nil pool means the process-wide one.
func GenerateSymmetricKeyFromPool(random io.Reader, pool *SecretPool) (*SymmetricKey, error) {
	key := newSymmetricKey(pool)
	if _, err := io.ReadFull(random, key.buf); err != nil {
		key.Destroy()
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	return key, nil
}

// SymmetricKeyFromBytes copies raw into a new key and zeroes raw.
func SymmetricKeyFromBytes(raw []byte) (*SymmetricKey, error) {
	if len(raw) != SymmetricKeySize {
		zeroize(raw)
		return nil, ErrInvalidKeySize
	}
	key := newSymmetricKey(nil)
	copy(key.buf, raw)
	zeroize(raw)
	return key, nil
}

// Bytes returns the key material. The slice aliases the key's buffer and
// must not be retained past Destroy.
func (k *SymmetricKey) Bytes() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		panic("crypto: use of destroyed symmetric key")
	}
	return k.buf
}

// Equal compares two keys in constant time.
func (k *SymmetricKey) Equal(other *SymmetricKey) bool {
	if k == nil || other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(k.Bytes(), other.Bytes()) == 1
}

// Destroy zeroes the key and releases its buffer. It is safe to call
// more than once.
func (k *SymmetricKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return
	}
	k.destroyed = true
	k.pool.PutKeyBuffer(k.buf)
	k.buf = nil
}

// Destroyed reports whether Destroy has been called.
func (k *SymmetricKey) Destroyed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.destroyed
}
