// Package resolver maps the identities an intent references to their account slots.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

// Resolved is a validated intent together with the account state it will act on.
type Resolved struct {
	Intent    contracts.Intent
	Actor     contracts.AccountState
	Recipient *contracts.AccountState // nil for debit-only intents
}

// Resolver is read-only.
type Resolver struct {
	accounts store.AccountReader
}

func New(accounts store.AccountReader) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve loads the actor slot and, when set, the recipient slot. A missing slot is a
// NotFoundError; any other store failure is returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, i contracts.Intent) (Resolved, error) {
	actor, err := r.lookup(ctx, i.ID, i.Actor)
	if err != nil {
		return Resolved{}, err
	}
	out := Resolved{Intent: i, Actor: actor}
	if i.Recipient != "" {
		rcpt, err := r.lookup(ctx, i.ID, i.Recipient)
		if err != nil {
			return Resolved{}, err
		}
		out.Recipient = &rcpt
	}
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, intentID, actor string) (contracts.AccountState, error) {
	acct, err := r.accounts.GetAccount(ctx, actor)
	if errors.Is(err, store.ErrNotFound) {
		return contracts.AccountState{}, contracts.NotFoundError(actor).WithIntent(intentID)
	}
	if err != nil {
		return contracts.AccountState{}, fmt.Errorf("resolve account %s: %w", actor, err)
	}
	return acct, nil
}
