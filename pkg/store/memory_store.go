package store

import (
	"context"
	"sort"
	"sync"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// MemoryStore implements Store in memory.
// Thread-safe via RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]contracts.AccountState
	records  map[string]contracts.ExecutionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]contracts.AccountState),
		records:  make(map[string]contracts.ExecutionRecord),
	}
}

func (s *MemoryStore) GetAccount(ctx context.Context, actor string) (contracts.AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[actor]
	if !ok {
		return contracts.AccountState{}, ErrNotFound
	}
	return acct, nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, intentID string) (contracts.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[intentID]
	if !ok {
		return contracts.ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

// Commit checks every precondition before mutating anything, so a failed commit leaves no trace.
func (s *MemoryStore) Commit(ctx context.Context, t *contracts.Transition) error {
	if err := checkTransition(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[t.Record.IntentID]; exists {
		return ErrRecordExists
	}
	for _, w := range t.Writes {
		acct, ok := s.accounts[w.Actor]
		if !ok || acct.Balance != w.Before {
			return ErrConflict
		}
	}

	for _, w := range t.Writes {
		acct := s.accounts[w.Actor]
		acct.Balance = w.After
		acct.UpdatedAt = w.UpdatedAt
		s.accounts[w.Actor] = acct
	}
	s.records[t.Record.IntentID] = t.Record
	return nil
}

func (s *MemoryStore) OpenAccount(ctx context.Context, acct contracts.AccountState) error {
	if err := checkAccount(acct); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acct.Actor]; exists {
		return ErrAccountExists
	}
	s.accounts[acct.Actor] = acct
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]contracts.AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountsLocked(), nil
}

func (s *MemoryStore) ListRecords(ctx context.Context) ([]contracts.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsLocked(), nil
}

func (s *MemoryStore) ListState(ctx context.Context) ([]contracts.AccountState, []contracts.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountsLocked(), s.recordsLocked(), nil
}

func (s *MemoryStore) accountsLocked() []contracts.AccountState {
	out := make([]contracts.AccountState, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}

func (s *MemoryStore) recordsLocked() []contracts.ExecutionRecord {
	out := make([]contracts.ExecutionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntentID < out[j].IntentID })
	return out
}

func (s *MemoryStore) Close() error { return nil }
