// Package producer turns plaintext into a pair of signed named objects: a
// content object holding the encrypted payload and a key object holding
// the content key wrapped under the data owner's encryption key.
package producer

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/nac-producer/internal/audit"
	"github.com/kenneth/nac-producer/internal/crypto"
	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/signing"
)

// Algorithm describes the hybrid scheme recorded in audit events.
const Algorithm = crypto.AlgorithmAES256GCM + "+" + crypto.AlgorithmRSAOAEPSHA256

const tracerName = "github.com/kenneth/nac-producer/internal/producer"

// Producer creates encrypted content and key objects. It holds no state
// between calls and is safe for concurrent use when its signer and random
// source are.
type Producer struct {
	signer    signing.Signer
	random    io.Reader
	cipher    *crypto.ContentCipher
	wrapper   *crypto.KeyWrapper
	freshness time.Duration
	pool      *crypto.SecretPool

	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger
	tracer  trace.Tracer
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger. Secret material is never logged.
func WithLogger(logger *logrus.Logger) Option {
	return func(p *Producer) { p.logger = logger }
}

// WithMetrics records produce and parse outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// WithAudit records produce and parse events on l.
func WithAudit(l audit.Logger) Option {
	return func(p *Producer) { p.audit = l }
}

// WithRandom sets the source of content keys, nonces and OAEP seeds.
// It must be safe for concurrent use if the Producer is shared.
func WithRandom(r io.Reader) Option {
	return func(p *Producer) { p.random = r }
}

// WithSecretPool sets the pool that backs content keys; the process-wide
// pool is used otherwise.
func WithSecretPool(pool *crypto.SecretPool) Option {
	return func(p *Producer) { p.pool = pool }
}

// WithFreshnessPeriod sets the FreshnessPeriod of produced objects.
func WithFreshnessPeriod(d time.Duration) Option {
	return func(p *Producer) { p.freshness = d }
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Producer) { p.tracer = tp.Tracer(tracerName) }
}

// New creates a Producer signing with signer.
func New(signer signing.Signer, opts ...Option) (*Producer, error) {
	if signer == nil {
		return nil, newError(ContractViolation, "new", signing.ErrNoCredential)
	}

	p := &Producer{signer: signer}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logrus.New()
		p.logger.SetOutput(io.Discard)
	}
	if p.tracer == nil {
		p.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	if p.random == nil {
		p.random = rand.Reader
	}
	p.cipher = crypto.NewContentCipher(p.random)
	p.wrapper = crypto.NewKeyWrapper(p.random)
	return p, nil
}

// Produce encrypts payload for the holder of the private half of
// encryptionKey (a DER RSA public key named asymmetricKeyName) and returns
// the signed content object and key object. Either both objects are
// returned or neither is.
func (p *Producer) Produce(name ndn.Name, payload []byte, asymmetricKeyName ndn.Name, encryptionKey []byte) (*ndn.Data, *ndn.Data, error) {
	return p.ProduceContext(context.Background(), name, payload, asymmetricKeyName, encryptionKey)
}

// ProduceContext is Produce with a context for tracing. The operation
// itself does not block and is not cancelled by ctx.
func (p *Producer) ProduceContext(ctx context.Context, name ndn.Name, payload []byte, asymmetricKeyName ndn.Name, encryptionKey []byte) (*ndn.Data, *ndn.Data, error) {
	ctx, span := p.tracer.Start(ctx, "producer.Produce", trace.WithAttributes(
		attribute.String("nac.content_name", name.String()),
		attribute.String("nac.encryption_key_name", asymmetricKeyName.String()),
		attribute.Int("nac.payload_size", len(payload)),
	))
	defer span.End()

	start := time.Now()
	content, key, err := p.produce(name, payload, asymmetricKeyName, encryptionKey)
	duration := time.Since(start)

	p.metrics.RecordProduce(ctx, err == nil, duration, len(payload))

	var keyObjectName string
	if key != nil {
		keyObjectName = key.Name.String()
		span.SetAttributes(attribute.String("nac.key_object_name", keyObjectName))
	}
	if p.audit != nil {
		p.audit.LogProduce(name.String(), keyObjectName, asymmetricKeyName.String(), Algorithm, len(payload), err == nil, err, duration, nil)
	}

	fields := logrus.Fields{
		"content_name":        name.String(),
		"encryption_key_name": asymmetricKeyName.String(),
		"payload_size":        len(payload),
		"duration_ms":         duration.Milliseconds(),
	}
	if err != nil {
		kind := KindOf(err)
		p.metrics.RecordError("produce", kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		p.logger.WithFields(fields).WithError(err).Warn("Produce failed")
		return nil, nil, err
	}

	span.SetStatus(codes.Ok, "")
	p.logger.WithFields(fields).WithField("key_object_name", keyObjectName).Debug("Produced content and key objects")
	return content, key, nil
}

func (p *Producer) produce(name ndn.Name, payload []byte, asymmetricKeyName ndn.Name, encryptionKey []byte) (*ndn.Data, *ndn.Data, error) {
	const op = "produce"

	if payload == nil {
		return nil, nil, newError(ContractViolation, op, ErrNilPayload)
	}
	keyObjectName, err := ndn.KeyObjectName(name, asymmetricKeyName)
	if err != nil {
		return nil, nil, newError(ContractViolation, op, err)
	}
	pub, err := crypto.ParsePublicKey(encryptionKey)
	if err != nil {
		return nil, nil, newError(ContractViolation, op, err)
	}

	key, err := crypto.GenerateSymmetricKeyFromPool(p.random, p.pool)
	if err != nil {
		return nil, nil, newError(CryptoFailure, op, err)
	}
	defer key.Destroy()

	envelope, err := p.cipher.Encrypt(payload, key)
	if err != nil {
		return nil, nil, newError(CryptoFailure, op, err)
	}
	content := &ndn.Data{
		Name:     name.Prefix(len(name)),
		MetaInfo: ndn.MetaInfo{ContentType: ndn.ContentTypeBlob, FreshnessPeriod: p.freshness},
		Content:  envelope,
	}

	wrapped, err := p.wrapper.WrapKey(key, pub)
	if err != nil {
		return nil, nil, newError(CryptoFailure, op, err)
	}
	// Both envelopes exist; the plaintext key is no longer needed.
	key.Destroy()

	keyPayload, err := ndn.EncryptedContent{Payload: wrapped, KeyName: asymmetricKeyName}.Encode()
	if err != nil {
		return nil, nil, newError(EncodingFailure, op, err)
	}
	keyObject := &ndn.Data{
		Name:     keyObjectName,
		MetaInfo: ndn.MetaInfo{ContentType: ndn.ContentTypeKey, FreshnessPeriod: p.freshness},
		Content:  keyPayload,
	}

	for _, d := range []*ndn.Data{content, keyObject} {
		if err := p.signer.Sign(d); err != nil {
			return nil, nil, newError(SigningFailure, op, err)
		}
		if !d.IsSigned() {
			return nil, nil, newError(SigningFailure, op, errors.New("signer returned without a signature value"))
		}
	}
	return content, keyObject, nil
}
