// Package store persists produced objects by name so the service can serve
// them back. Every backend stores the same CBOR record: the Data wire
// encoding plus a BLAKE3 digest that is checked on every read.
package store

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/kenneth/nac-producer/internal/ndn"
)

var (
	// ErrNotFound is returned when no object is stored under a name.
	ErrNotFound = errors.New("store: object not found")

	// ErrCorrupt is returned when a stored record fails its digest check.
	ErrCorrupt = errors.New("store: stored record is corrupt")
)

// Store persists Data packets by name.
type Store interface {
	Put(ctx context.Context, d *ndn.Data) error
	Get(ctx context.Context, name ndn.Name) (*ndn.Data, error)
	Delete(ctx context.Context, name ndn.Name) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Backend names the backend for metrics and logs.
	Backend() string
	Close() error
}

// Record is the stored form of an object.
type Record struct {
	Wire        []byte `cbor:"1,keyasint"`
	Digest      []byte `cbor:"2,keyasint"`
	StoredAt    int64  `cbor:"3,keyasint"` // unix nanoseconds
	ContentType uint64 `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// now is replaced in tests.
var now = time.Now

// encodeRecord encodes d into a Record bound to its digest.
func encodeRecord(d *ndn.Data) ([]byte, error) {
	if d == nil || len(d.Name) == 0 {
		return nil, fmt.Errorf("store: object with a name is required")
	}
	wire, err := d.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", d.Name, err)
	}
	digest := blake3.Sum256(wire)
	return encMode.Marshal(Record{
		Wire:        wire,
		Digest:      digest[:],
		StoredAt:    now().UnixNano(),
		ContentType: uint64(d.MetaInfo.ContentType),
	})
}

// decodeRecord reverses encodeRecord and checks the digest and that the
// stored packet carries the expected name.
func decodeRecord(raw []byte, name ndn.Name) (*ndn.Data, error) {
	var rec Record
	if err := decMode.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	digest := blake3.Sum256(rec.Wire)
	if subtle.ConstantTimeCompare(digest[:], rec.Digest) != 1 {
		return nil, fmt.Errorf("%w: digest mismatch for %s", ErrCorrupt, name)
	}
	d, err := ndn.DecodeData(rec.Wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !d.Name.Equal(name) {
		return nil, fmt.Errorf("%w: record for %s holds %s", ErrCorrupt, name, d.Name)
	}
	return d, nil
}

func notFound(name ndn.Name) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}
