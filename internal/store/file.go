package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// FileStore keeps one record file per object in a directory. File names
// are the hex blake3 digest of the name URI, so names of any length map to
// a fixed-size safe path. The record itself carries the full name.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name ndn.Name) string {
	sum := blake3.Sum256([]byte(name.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".rec")
}

func (s *FileStore) Put(ctx context.Context, d *ndn.Data) error {
	raw, err := encodeRecord(d)
	if err != nil {
		return err
	}

	// Write to a temp file and rename so readers never see a partial record.
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record for %s: %w", d.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write record for %s: %w", d.Name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(d.Name)); err != nil {
		return fmt.Errorf("failed to store record for %s: %w", d.Name, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, name ndn.Name) (*ndn.Data, error) {
	raw, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record for %s: %w", name, err)
	}
	return decodeRecord(raw, name)
}

func (s *FileStore) Delete(ctx context.Context, name ndn.Name) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(name)
	}
	if err != nil {
		return fmt.Errorf("failed to delete record for %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) Backend() string { return "file" }

func (s *FileStore) Close() error { return nil }
