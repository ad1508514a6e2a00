// Package store persists account state and execution records. Every backend applies a
// contracts.Transition atomically: all account writes and the execution record become visible
// together, or none of them do.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

var (
	// ErrNotFound is returned when an account or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRecordExists is returned by Commit when the intent already has an execution record.
	ErrRecordExists = errors.New("execution record exists")
	// ErrAccountExists is returned by OpenAccount for a duplicate actor.
	ErrAccountExists = errors.New("account exists")
	// ErrConflict is returned by Commit when an account no longer matches the balance the
	// transition was computed from.
	ErrConflict = errors.New("account state changed")
)

// AccountReader resolves account slots.
type AccountReader interface {
	GetAccount(ctx context.Context, actor string) (contracts.AccountState, error)
}

// RecordReader looks up execution records.
type RecordReader interface {
	GetRecord(ctx context.Context, intentID string) (contracts.ExecutionRecord, error)
}

// Committer applies a transition as one atomic unit.
type Committer interface {
	Commit(ctx context.Context, t *contracts.Transition) error
}

// Store is the full persistence surface.
type Store interface {
	AccountReader
	RecordReader
	Committer

	// OpenAccount creates an account. It is administrative and never part of an execution.
	OpenAccount(ctx context.Context, acct contracts.AccountState) error
	ListAccounts(ctx context.Context) ([]contracts.AccountState, error)
	ListRecords(ctx context.Context) ([]contracts.ExecutionRecord, error)
	// ListState returns every account and record as of a single point in time, so no commit is
	// half visible in the result.
	ListState(ctx context.Context) ([]contracts.AccountState, []contracts.ExecutionRecord, error)
	Close() error
}

// checkTransition rejects transitions no backend should attempt to apply.
func checkTransition(t *contracts.Transition) error {
	if t == nil {
		return fmt.Errorf("nil transition")
	}
	if t.Record.IntentID == "" {
		return fmt.Errorf("transition record has no intent id")
	}
	if len(t.Writes) == 0 {
		return fmt.Errorf("transition has no account writes")
	}
	seen := make(map[string]struct{}, len(t.Writes))
	for _, w := range t.Writes {
		if w.Actor == "" {
			return fmt.Errorf("transition write has no actor")
		}
		if _, dup := seen[w.Actor]; dup {
			return fmt.Errorf("transition writes account %s twice", w.Actor)
		}
		seen[w.Actor] = struct{}{}
	}
	return nil
}

func checkAccount(acct contracts.AccountState) error {
	if acct.Actor == "" {
		return fmt.Errorf("account has no actor")
	}
	return nil
}
