package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/R3DRVM/BlossomV2/pkg/canonicalize"
)

const hashPrefix = "sha256:"

// ErrBlobNotFound is returned by Get for an unknown hash.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is content-addressed storage for snapshot documents.
type BlobStore interface {
	// Put stores data and returns its "sha256:<hex>" address. Storing the same bytes twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// Address returns the content address of data.
func Address(data []byte) string {
	return hashPrefix + canonicalize.HashBytes(data)
}

// settleWrite resolves a failed write. If the blob is present anyway (a concurrent writer, or a
// write whose response was lost) the put succeeded; otherwise both failures are reported.
func settleWrite(ctx context.Context, b BlobStore, hash string, writeErr error) (string, error) {
	exists, err := b.Exists(ctx, hash)
	if err != nil {
		return "", errors.Join(writeErr, fmt.Errorf("check existing blob: %w", err))
	}
	if exists {
		return hash, nil
	}
	return "", writeErr
}

// parseAddress returns the hex digest of a "sha256:" address.
func parseAddress(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, hashPrefix)
	if !ok {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("invalid hash hex: %s", hash)
	}
	return raw, nil
}

func objectKey(prefix, raw string) string {
	return prefix + raw + ".json"
}

// FileStore keeps blobs in a local directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	//nolint:gosec // snapshots are meant to be shared
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.dir, objectKey("", raw))
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	hash := Address(data)
	raw, _ := parseAddress(hash)
	path := s.path(raw)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := parseAddress(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(raw))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, hash)
	}
	return data, err
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := parseAddress(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(raw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
