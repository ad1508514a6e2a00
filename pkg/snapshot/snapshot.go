// Package snapshot exports the ledger (accounts and execution records) as a content-addressed
// document and verifies previously exported snapshots.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

// FormatVersion identifies the snapshot document layout.
const FormatVersion = "blossom.snapshot/v1"

// Snapshot is the exported ledger. Accounts are sorted by actor and records by intent ID, so the
// same ledger always serializes to the same bytes.
type Snapshot struct {
	Version  string                      `json:"version"`
	Accounts []contracts.AccountState    `json:"accounts"`
	Records  []contracts.ExecutionRecord `json:"records"`
}

// Lister is the read side of store.Store used for export.
type Lister interface {
	ListState(ctx context.Context) ([]contracts.AccountState, []contracts.ExecutionRecord, error)
}

var _ Lister = (store.Store)(nil)

// Take reads the full ledger from s in one consistent read, so it is safe while intents execute.
func Take(ctx context.Context, s Lister) (*Snapshot, error) {
	accounts, records, err := s.ListState(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	for i := range accounts {
		accounts[i].UpdatedAt = accounts[i].UpdatedAt.UTC()
	}
	for i := range records {
		records[i].ExecutedAt = records[i].ExecutedAt.UTC()
	}
	return &Snapshot{Version: FormatVersion, Accounts: accounts, Records: records}, nil
}

// Encode serializes the snapshot. encoding/json keeps struct field order and uint64 precision,
// and Take sorts both lists, so the output is deterministic.
func (s *Snapshot) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Export takes a snapshot of s and stores it in blobs, returning its content address.
func Export(ctx context.Context, s Lister, blobs BlobStore) (string, *Snapshot, error) {
	snap, err := Take(ctx, s)
	if err != nil {
		return "", nil, err
	}
	data, err := snap.Encode()
	if err != nil {
		return "", nil, err
	}
	hash, err := blobs.Put(ctx, data)
	if err != nil {
		return "", nil, fmt.Errorf("store snapshot: %w", err)
	}
	slog.Default().InfoContext(ctx, "snapshot exported",
		"hash", hash,
		"accounts", len(snap.Accounts),
		"records", len(snap.Records),
	)
	return hash, snap, nil
}

// Verify loads the snapshot at hash, checks its content address and decodes it. Unknown fields
// are rejected.
func Verify(ctx context.Context, blobs BlobStore, hash string) (*Snapshot, error) {
	if _, err := parseAddress(hash); err != nil {
		return nil, err
	}
	data, err := blobs.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if got := Address(data); got != hash {
		return nil, fmt.Errorf("snapshot content mismatch: want %s, got %s", hash, got)
	}

	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %q", snap.Version)
	}
	return &snap, nil
}

// Balances returns the total of all account balances and whether it overflowed uint64.
func (s *Snapshot) Balances() (total uint64, overflow bool) {
	for _, a := range s.Accounts {
		next := total + a.Balance
		if next < total {
			overflow = true
		}
		total = next
	}
	return total, overflow
}
