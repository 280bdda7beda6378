package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/nac-producer/internal/config"
	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/ndn"
	"github.com/kenneth/nac-producer/internal/signing"
)

func testData(t *testing.T, uri string) *ndn.Data {
	t.Helper()
	d := &ndn.Data{
		Name:     ndn.MustParseName(uri),
		MetaInfo: ndn.MetaInfo{ContentType: ndn.ContentTypeBlob, FreshnessPeriod: time.Hour},
		Content:  []byte("ciphertext for " + uri),
	}
	require.NoError(t, signing.DigestSigner{}.Sign(d))
	return d
}

// fakeS3 is an in-memory stand-in for the S3 API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisStore := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "nac:", 0)
	t.Cleanup(func() { redisStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"redis":  redisStore,
		"s3":     newS3StoreWithClient(newFakeS3(), "objects", "nac/"),
	}
}

func TestStore_Backends(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, name, s.Backend())
			require.NoError(t, s.Ping(ctx))

			d := testData(t, "/alice/photo1")
			require.NoError(t, s.Put(ctx, d))

			got, err := s.Get(ctx, d.Name)
			require.NoError(t, err)
			assert.True(t, d.Name.Equal(got.Name))
			assert.Equal(t, d.Content, got.Content)
			assert.Equal(t, d.SignatureValue, got.SignatureValue)
			assert.Equal(t, d.MetaInfo.FreshnessPeriod, got.MetaInfo.FreshnessPeriod)

			_, err = s.Get(ctx, ndn.MustParseName("/alice/photo2"))
			assert.ErrorIs(t, err, ErrNotFound)

			// Overwrite replaces the record.
			replacement := testData(t, "/alice/photo1")
			replacement.Content = []byte("second version")
			require.NoError(t, signing.DigestSigner{}.Sign(replacement))
			require.NoError(t, s.Put(ctx, replacement))
			got, err = s.Get(ctx, d.Name)
			require.NoError(t, err)
			assert.Equal(t, []byte("second version"), got.Content)

			require.NoError(t, s.Delete(ctx, d.Name))
			_, err = s.Get(ctx, d.Name)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, d.Name), ErrNotFound)

			assert.Error(t, s.Put(ctx, nil))
			require.NoError(t, s.Close())
		})
	}
}

func TestStore_NamesWithSpecialComponents(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	d := testData(t, "/alice/..%2F../C-KEY/ENC-KEY/1")
	require.NoError(t, s.Put(ctx, d))
	got, err := s.Get(ctx, d.Name)
	require.NoError(t, err)
	assert.True(t, d.Name.Equal(got.Name))
}

func TestStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := testData(t, "/alice/photo1")
	require.NoError(t, s.Put(ctx, d))

	key := d.Name.String()
	raw := append([]byte(nil), s.records[key]...)
	raw[len(raw)-1] ^= 0xff
	s.records[key] = raw

	_, err := s.Get(ctx, d.Name)
	assert.ErrorIs(t, err, ErrCorrupt)

	s.records[key] = []byte("not cbor")
	_, err = s.Get(ctx, d.Name)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_RecordNameMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := testData(t, "/alice/photo1")
	require.NoError(t, s.Put(ctx, d))

	// A record copied under another name must not be served.
	s.records["/alice/photo2"] = s.records[d.Name.String()]
	_, err := s.Get(ctx, ndn.MustParseName("/alice/photo2"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStore_CorruptFile(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	d := testData(t, "/alice/photo1")
	require.NoError(t, s.Put(ctx, d))

	require.NoError(t, os.WriteFile(s.path(d.Name), []byte{0xa1, 0x01, 0x40}, 0o600))
	_, err = s.Get(ctx, d.Name)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStore_LongName(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	d := testData(t, "/alice/"+strings.Repeat("p", 300)+"/C-KEY/ENC-KEY/1")
	require.NoError(t, s.Put(ctx, d))
	assert.Len(t, filepath.Base(s.path(d.Name)), 64+len(".rec"))

	got, err := s.Get(ctx, d.Name)
	require.NoError(t, err)
	assert.True(t, d.Name.Equal(got.Name))
	require.NoError(t, s.Delete(ctx, d.Name))
	_, err = s.Get(ctx, d.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "nac:", time.Minute)
	defer s.Close()

	d := testData(t, "/alice/photo1")
	require.NoError(t, s.Put(ctx, d))
	assert.True(t, mr.Exists("nac:/alice/photo1"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, d.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "nac:", 0)
	defer s.Close()
	mr.Close()

	assert.Error(t, s.Ping(context.Background()))
	_, err := s.Get(context.Background(), ndn.MustParseName("/alice/photo1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// flakyStore fails the first n calls with a transient error.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

var errTransient = errors.New("connection reset")

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errTransient
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, d *ndn.Data) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.Put(ctx, d)
}

func (f *flakyStore) Get(ctx context.Context, name ndn.Name) (*ndn.Data, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.MemoryStore.Get(ctx, name)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	d := testData(t, "/alice/photo1")

	t.Run("recovers from transient failures", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
		s := WithRetry(inner, 3, time.Millisecond)
		require.NoError(t, s.Put(ctx, d))
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
		s := WithRetry(inner, 2, time.Millisecond)
		assert.ErrorIs(t, s.Put(ctx, d), errTransient)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("not found is not retried", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore()}
		s := WithRetry(inner, 3, time.Millisecond)
		_, err := s.Get(ctx, d.Name)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("invalid object is not retried", func(t *testing.T) {
		inner := &flakyStore{MemoryStore: NewMemoryStore()}
		s := WithRetry(inner, 3, time.Millisecond)
		assert.Error(t, s.Put(ctx, nil))
		assert.Equal(t, 0, inner.calls)
	})

	t.Run("zero retries returns the store unchanged", func(t *testing.T) {
		inner := NewMemoryStore()
		assert.Same(t, inner, WithRetry(inner, 0, time.Millisecond))
	})
}

func TestWithMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	s := WithMetrics(NewMemoryStore(), m)

	d := testData(t, "/alice/photo1")
	require.NoError(t, s.Put(ctx, d))
	_, err := s.Get(ctx, d.Name)
	require.NoError(t, err)
	_, err = s.Get(ctx, ndn.MustParseName("/missing"))
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "nac_store_operations_total", map[string]string{"operation": "put", "backend": "memory"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "nac_store_operations_total", map[string]string{"operation": "get", "backend": "memory"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "nac_store_operation_errors_total",
		map[string]string{"operation": "get", "backend": "memory", "error_type": "not_found"}))
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		backend string
		wantErr bool
	}{
		{name: "default", cfg: config.StoreConfig{}, backend: "memory"},
		{name: "file", cfg: config.StoreConfig{Type: "file", File: config.FileStoreConfig{Dir: t.TempDir()}}, backend: "file"},
		{name: "redis with retry", backend: "redis", cfg: config.StoreConfig{
			Type:  "redis",
			Redis: config.RedisStoreConfig{Addr: mr.Addr(), KeyPrefix: "nac:"},
			Retry: config.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond},
		}},
		{name: "unknown", cfg: config.StoreConfig{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(ctx, tt.cfg, metrics.NewMetricsWithRegistry(prometheus.NewRegistry()))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, tt.backend, s.Backend())

			d := testData(t, "/alice/photo1")
			require.NoError(t, s.Put(ctx, d))
			got, err := s.Get(ctx, d.Name)
			require.NoError(t, err)
			assert.Equal(t, d.Content, got.Content)
		})
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}
