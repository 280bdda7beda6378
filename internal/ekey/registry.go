// Package ekey keeps the encryption keys data owners have published, so
// the service can produce for a key by name.
package ekey

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pmylund/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/nac-producer/internal/audit"
	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/producer"
	"github.com/kenneth/nac-producer/internal/signing"
)

// ErrUntrusted is returned when an E-KEY packet fails trust anchor verification.
var ErrUntrusted = errors.New("ekey: encryption key is not signed by the trust anchor")

type entry struct {
	name ndn.Name
	der  []byte
}

// Registry caches parsed encryption keys by name URI. Entries expire
// after the configured TTL; a zero TTL keeps them forever.
type Registry struct {
	cache   *cache.Cache
	ttl     time.Duration
	anchor  crypto.PublicKey
	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTrustAnchor requires every registered E-KEY to verify against anchor.
func WithTrustAnchor(anchor crypto.PublicKey) Option {
	return func(r *Registry) { r.anchor = anchor }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics records registrations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithAudit records registrations on l.
func WithAudit(l audit.Logger) Option {
	return func(r *Registry) { r.audit = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	expiration := ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
	}
	cleanup := expiration
	if cleanup <= 0 || cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}

	r := &Registry{
		cache: cache.New(expiration, cleanup),
		ttl:   expiration,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	return r
}

// Register parses eKeyData, verifies it against the trust anchor when one
// is configured, and stores it under its name. A later registration of
// the same name replaces the earlier one.
func (r *Registry) Register(eKeyData *ndn.Data) (ndn.Name, error) {
	name, der, err := r.register(eKeyData)

	r.metrics.RecordEKeyRegistration(err == nil)
	if r.audit != nil {
		var uri string
		if eKeyData != nil {
			uri = eKeyData.Name.String()
		}
		r.audit.LogKeyRegistration(uri, err == nil, err)
	}
	if err != nil {
		r.metrics.RecordError("register_ekey", producer.KindOf(err).String())
		r.logger.WithError(err).Warn("Rejected encryption key")
		return nil, err
	}

	r.cache.Set(name.String(), entry{name: name, der: der}, r.ttl)
	r.logger.WithField("encryption_key_name", name.String()).Info("Registered encryption key")
	return name, nil
}

func (r *Registry) register(eKeyData *ndn.Data) (ndn.Name, []byte, error) {
	name, der, err := producer.ParseEncryptionKeyData(eKeyData)
	if err != nil {
		return nil, nil, err
	}
	if r.anchor != nil {
		if err := signing.Verify(eKeyData, r.anchor); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUntrusted, err)
		}
	}
	return name, der, nil
}

// Lookup returns the registered key for name.
func (r *Registry) Lookup(name ndn.Name) (ndn.Name, []byte, bool) {
	v, ok := r.cache.Get(name.String())
	if !ok {
		return nil, nil, false
	}
	e := v.(entry)
	return e.name, e.der, true
}

// Remove drops the key registered under name.
func (r *Registry) Remove(name ndn.Name) {
	r.cache.Delete(name.String())
}

// Len returns the number of registered keys, including expired entries
// not yet cleaned up.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// LoadTrustAnchor reads a PEM or DER PKIX public key from path.
func LoadTrustAnchor(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust anchor: %w", err)
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	pub, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trust anchor %s: %w", path, err)
	}
	return pub, nil
}
