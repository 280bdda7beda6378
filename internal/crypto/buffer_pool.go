package crypto

import (
	"sync"
	"sync/atomic"
)

// SecretPool pools the fixed-size buffers that back content keys.
// Buffers are zeroized before they go back into the pool, so a buffer
// handed out by GetKeyBuffer is always all zeros.
type SecretPool struct {
	keys *sync.Pool

	gets, puts, allocs atomic.Int64
}

// NewSecretPool creates an empty pool.
func NewSecretPool() *SecretPool {
	p := &SecretPool{}
	p.keys = &sync.Pool{New: func() interface{} {
		p.allocs.Add(1)
		return make([]byte, SymmetricKeySize)
	}}
	return p
}

var globalSecretPool = NewSecretPool()

// GetGlobalSecretPool returns the process-wide pool.
func GetGlobalSecretPool() *SecretPool {
	return globalSecretPool
}

// GetKeyBuffer returns a zeroed SymmetricKeySize buffer.
func (p *SecretPool) GetKeyBuffer() []byte {
	p.gets.Add(1)
	return p.keys.Get().([]byte)
}

// PutKeyBuffer zeroizes buf and returns it to the pool.
func (p *SecretPool) PutKeyBuffer(buf []byte) {
	p.puts.Add(1)
	if cap(buf) != SymmetricKeySize {
		// Don't pool incorrectly sized buffers
		zeroize(buf)
		return
	}
	buf = buf[:SymmetricKeySize]
	zeroize(buf)
	p.keys.Put(buf)
}

// SecretPoolMetrics reports pool usage.
type SecretPoolMetrics struct {
	Gets   int64
	Puts   int64
	Allocs int64
}

// Outstanding is the number of buffers handed out and not yet returned.
func (m SecretPoolMetrics) Outstanding() int64 {
	return m.Gets - m.Puts
}

// ReuseRate returns the fraction of requests served without allocating.
func (m SecretPoolMetrics) ReuseRate() float64 {
	if m.Gets == 0 {
		return 0
	}
	reused := m.Gets - m.Allocs
	if reused < 0 {
		reused = 0
	}
	return float64(reused) / float64(m.Gets)
}

// GetMetrics returns a snapshot of the pool counters.
func (p *SecretPool) GetMetrics() SecretPoolMetrics {
	return SecretPoolMetrics{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		Allocs: p.allocs.Load(),
	}
}

// zeroize overwrites buf with zeros.
func zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
