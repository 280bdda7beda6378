package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/nac-producer/internal/audit"
	"github.com/kenneth/nac-producer/internal/crypto"
	"github.com/kenneth/nac-producer/internal/ekey"
	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/producer"
	"github.com/kenneth/nac-producer/internal/signing"
	"github.com/kenneth/nac-producer/internal/store"
)

var (
	ownerOnce sync.Once
	ownerKey  *rsa.PrivateKey
	ownerErr  error
)

func testOwnerKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	ownerOnce.Do(func() { ownerKey, ownerErr = rsa.GenerateKey(rand.Reader, 2048) })
	require.NoError(t, ownerErr)
	return ownerKey
}

type discardWriter struct{}

func (discardWriter) WriteEvent(*audit.AuditEvent) error { return nil }

type testServer struct {
	handler  http.Handler
	store    *store.MemoryStore
	registry *ekey.Registry
	audit    audit.Logger
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	p, err := producer.New(signing.DigestSigner{}, producer.WithLogger(logger), producer.WithMetrics(m))
	require.NoError(t, err)

	st := store.NewMemoryStore()
	registry := ekey.NewRegistry(time.Hour, ekey.WithLogger(logger))
	auditLog := audit.NewLogger(100, discardWriter{})

	opts = append([]Option{WithAudit(auditLog)}, opts...)
	h := NewHandler(p, registry, st, logger, m, opts...)
	return &testServer{handler: h.Router(), store: st, registry: registry, audit: auditLog}
}

func (s *testServer) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func eKeyWire(t *testing.T, name string) []byte {
	t.Helper()
	d, err := producer.NewEncryptionKeyData(ndn.MustParseName(name), &testOwnerKey(t).PublicKey)
	require.NoError(t, err)
	require.NoError(t, signing.DigestSigner{}.Sign(d))
	wire, err := d.Encode()
	require.NoError(t, err)
	return wire
}

// keyPacketWire builds a digest-signed public key packet under name
// without the ENC-KEY checks NewEncryptionKeyData applies.
func keyPacketWire(t *testing.T, name string) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&testOwnerKey(t).PublicKey)
	require.NoError(t, err)
	d := &ndn.Data{
		Name:     ndn.MustParseName(name),
		MetaInfo: ndn.MetaInfo{ContentType: ndn.ContentTypeKey},
		Content:  der,
	}
	require.NoError(t, signing.DigestSigner{}.Sign(d))
	wire, err := d.Encode()
	require.NoError(t, err)
	return wire
}

func (s *testServer) registerEKey(t *testing.T, name string) {
	t.Helper()
	w := s.do(http.MethodPost, "/v1/ekeys", eKeyWire(t, name))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRegisterEKey(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/ekeys", eKeyWire(t, "/alice/ENC-KEY/1"))
	require.Equal(t, http.StatusCreated, w.Code)
	var resp registerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/alice/ENC-KEY/1", resp.KeyName)
	assert.Equal(t, 1, s.registry.Len())

	w = s.do(http.MethodPost, "/v1/ekeys", []byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/v1/ekeys", keyPacketWire(t, "/alice/KEY/1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, s.registry.Len())
}

func TestRegisterEKey_Untrusted(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	anchor, err := signing.GenerateIdentity(ndn.MustParseName("/alice/KEY/1"))
	require.NoError(t, err)

	p, err := producer.New(signing.DigestSigner{})
	require.NoError(t, err)
	registry := ekey.NewRegistry(time.Hour, ekey.WithTrustAnchor(anchor.Public()), ekey.WithLogger(logger))
	h := NewHandler(p, registry, store.NewMemoryStore(), logger, nil).Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/ekeys", bytes.NewReader(eKeyWire(t, "/alice/ENC-KEY/1")))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPutAndGetObject(t *testing.T) {
	s := newTestServer(t)
	s.registerEKey(t, "/alice/ENC-KEY/1")

	plaintext := []byte("a photo of the sea")
	w := s.do(http.MethodPut, "/v1/objects/alice/photo1?ekey=/alice/ENC-KEY/1", plaintext)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp produceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/alice/photo1", resp.ContentName)
	assert.Equal(t, "/alice/photo1/C-KEY/ENC-KEY/1", resp.KeyName)
	assert.Equal(t, len(plaintext)+crypto.EnvelopeOverhead, resp.ContentSize)
	assert.Equal(t, 2, s.store.Len())

	// Content object decrypts with the key recovered from the key object.
	w = s.do(http.MethodGet, "/v1/objects/alice/photo1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	content, err := ndn.DecodeData(w.Body.Bytes())
	require.NoError(t, err)

	w = s.do(http.MethodGet, "/v1/objects/alice/photo1/C-KEY/ENC-KEY/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	keyObject, err := ndn.DecodeData(w.Body.Bytes())
	require.NoError(t, err)

	keyName, wrapped, err := producer.ParseEKeyData(keyObject)
	require.NoError(t, err)
	assert.Equal(t, "/alice/ENC-KEY/1", keyName.String())

	symKey, err := crypto.UnwrapKey(wrapped, testOwnerKey(t))
	require.NoError(t, err)
	defer symKey.Destroy()
	got, err := crypto.Decrypt(content.Content, symKey)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	var sawAccess bool
	for _, e := range s.audit.GetEvents() {
		if e.EventType == audit.EventTypeAccess {
			sawAccess = true
		}
	}
	assert.True(t, sawAccess)
}

func TestPutObject_EmptyPayload(t *testing.T) {
	s := newTestServer(t)
	s.registerEKey(t, "/alice/ENC-KEY/1")

	w := s.do(http.MethodPut, "/v1/objects/alice/empty?ekey=/alice/ENC-KEY/1", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp produceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, crypto.EnvelopeOverhead, resp.ContentSize)
}

func TestPutObject_Errors(t *testing.T) {
	s := newTestServer(t, WithPolicy(NewNamePolicy([]string{"/alice/*"})), WithMaxBodyBytes(1024))
	s.registerEKey(t, "/alice/ENC-KEY/1")

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"missing ekey", "/v1/objects/alice/photo1", "x", http.StatusBadRequest},
		{"bad ekey name", "/v1/objects/alice/photo1?ekey=alice", "x", http.StatusBadRequest},
		{"unknown ekey", "/v1/objects/alice/photo1?ekey=/alice/ENC-KEY/9", "x", http.StatusNotFound},
		{"denied by policy", "/v1/objects/bob/photo1?ekey=/alice/ENC-KEY/1", "x", http.StatusForbidden},
		{"reserved token in name", "/v1/objects/alice/C-KEY/photo?ekey=/alice/ENC-KEY/1", "x", http.StatusBadRequest},
		{"body too large", "/v1/objects/alice/photo1?ekey=/alice/ENC-KEY/1", strings.Repeat("x", 1025), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPut, tt.target, []byte(tt.body))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, 0, s.store.Len())
}

func TestPutObject_EncodedComponent(t *testing.T) {
	s := newTestServer(t)
	s.registerEKey(t, "/alice/ENC-KEY/1")

	w := s.do(http.MethodPut, "/v1/objects/alice/a%2Fb?ekey=/alice/ENC-KEY/1", []byte("x"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp produceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	name := ndn.MustParseName(resp.ContentName)
	require.Len(t, name, 2)
	assert.Equal(t, ndn.Component("a/b"), name[1])
}

func TestGetObject_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/v1/objects/alice/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// failingStore accepts content objects but rejects key objects.
type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) Put(ctx context.Context, d *ndn.Data) error {
	if d.MetaInfo.ContentType == ndn.ContentTypeKey {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, d)
}

func TestPutObject_StoreFailureRollsBack(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p, err := producer.New(signing.DigestSigner{}, producer.WithLogger(logger))
	require.NoError(t, err)
	registry := ekey.NewRegistry(time.Hour, ekey.WithLogger(logger))
	mem := store.NewMemoryStore()
	h := NewHandler(p, registry, failingStore{mem}, logger, nil).Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/ekeys", bytes.NewReader(eKeyWire(t, "/alice/ENC-KEY/1")))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/objects/alice/photo1?ekey=/alice/ENC-KEY/1", strings.NewReader("x"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, mem.Len())
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		w := s.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := s.do(http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNamePolicy(t *testing.T) {
	tests := []struct {
		patterns []string
		name     string
		want     bool
	}{
		{nil, "/anything/at/all", true},
		{[]string{"/alice/*"}, "/alice/photo1", true},
		{[]string{"/alice/*"}, "/alice/photos/2024/1", true},
		{[]string{"/alice/*"}, "/bob/photo1", false},
		{[]string{"/alice/*", "/bob/public/*"}, "/bob/public/x", true},
		{[]string{"/alice/photo?"}, "/alice/photo1", false},
		{[]string{"*/photo1"}, "/carol/photo1", true},
	}
	for _, tt := range tests {
		got := NewNamePolicy(tt.patterns).Allows(ndn.MustParseName(tt.name))
		assert.Equal(t, tt.want, got, "%v %s", tt.patterns, tt.name)
	}

	var nilPolicy *NamePolicy
	assert.True(t, nilPolicy.Allows(ndn.MustParseName("/x")))
}
