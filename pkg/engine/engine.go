// Package engine turns a resolved intent into a Transition and commits it atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/resolver"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

// receiptNamespace scopes receipt UUIDs. Receipts are derived from intent IDs, so the same
// intent always yields the same receipt on every backend.
var receiptNamespace = uuid.MustParse("5c0f6a3e-6f0a-4f57-9a51-0b6e7d1c2e4b")

// ReceiptID returns the receipt identifier for an intent ID.
func ReceiptID(intentID string) string {
	return uuid.NewSHA1(receiptNamespace, []byte(intentID)).String()
}

// Engine applies transitions through a store.Committer.
type Engine struct {
	committer store.Committer
}

func New(c store.Committer) *Engine {
	return &Engine{committer: c}
}

// Plan computes the transition for r without touching any state.
func Plan(r resolver.Resolved, now time.Time) (*contracts.Transition, error) {
	i := r.Intent
	if r.Actor.Balance < i.Amount {
		return nil, contracts.InsufficientFundsError(i.Actor, r.Actor.Balance, i.Amount).WithIntent(i.ID)
	}
	now = now.UTC()

	t := &contracts.Transition{
		Writes: []contracts.AccountWrite{{
			Actor:     i.Actor,
			Before:    r.Actor.Balance,
			After:     r.Actor.Balance - i.Amount,
			UpdatedAt: now,
		}},
		Record: contracts.ExecutionRecord{
			IntentID:   i.ID,
			ReceiptID:  ReceiptID(i.ID),
			Actor:      i.Actor,
			Recipient:  i.Recipient,
			Amount:     i.Amount,
			ExecutedAt: now,
		},
	}

	if i.Recipient != "" {
		if r.Recipient == nil {
			return nil, contracts.NotFoundError(i.Recipient).WithIntent(i.ID)
		}
		credited, carry := bits.Add64(r.Recipient.Balance, i.Amount, 0)
		if carry != 0 {
			return nil, contracts.ValidationError("credit overflows recipient %s balance", i.Recipient).WithIntent(i.ID)
		}
		t.Writes = append(t.Writes, contracts.AccountWrite{
			Actor:     i.Recipient,
			Before:    r.Recipient.Balance,
			After:     credited,
			UpdatedAt: now,
		})
	}
	return t, nil
}

// Apply plans and commits. On success the returned record is durable; on any error nothing
// was written.
func (e *Engine) Apply(ctx context.Context, r resolver.Resolved, now time.Time) (contracts.ExecutionRecord, error) {
	t, err := Plan(r, now)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	if err := e.committer.Commit(ctx, t); err != nil {
		if errors.Is(err, store.ErrRecordExists) {
			return contracts.ExecutionRecord{}, contracts.DuplicateExecutionError(r.Intent.ID)
		}
		return contracts.ExecutionRecord{}, fmt.Errorf("commit intent %s: %w", r.Intent.ID, err)
	}
	return t.Record, nil
}
