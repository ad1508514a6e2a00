// Package intent validates submitted intents: structure, expiry, policy bounds and signature.
// Validation is side-effect free; any failure is a contracts.ValidationError.
package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/R3DRVM/BlossomV2/pkg/canonicalize"
	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/crypto"
)

// MaxIDLength bounds intent IDs so record keys stay index-friendly in every store.
const MaxIDLength = 128

// MaxMemoLength bounds the free-form memo.
const MaxMemoLength = 256

// PolicyChecker is satisfied by *policy.Evaluator.
type PolicyChecker interface {
	Check(i contracts.Intent, now time.Time) error
}

// Validator checks a raw Intent against the current logical time.
type Validator struct {
	policy PolicyChecker
}

func NewValidator(p PolicyChecker) *Validator {
	return &Validator{policy: p}
}

// Validate returns the accepted intent or a ValidationError. Checks run cheapest first, so an
// expired intent is rejected without touching its signature.
func (v *Validator) Validate(i contracts.Intent, now time.Time) (contracts.Intent, error) {
	if err := checkStructure(i); err != nil {
		return contracts.Intent{}, err.WithIntent(i.ID)
	}
	if i.ExpiredAt(now) {
		return contracts.Intent{}, contracts.ValidationError("intent expired at %d (now %d)", i.Expiry, now.Unix()).WithIntent(i.ID)
	}
	if i.Amount == 0 {
		return contracts.Intent{}, contracts.ValidationError("amount must be nonzero").WithIntent(i.ID)
	}
	if v.policy != nil {
		if err := v.policy.Check(i, now); err != nil {
			return contracts.Intent{}, contracts.ValidationError("policy: %v", err).WithIntent(i.ID)
		}
	}
	ok, err := crypto.VerifyIntent(i)
	if err != nil {
		return contracts.Intent{}, contracts.ValidationError("signature: %v", err).WithIntent(i.ID)
	}
	if !ok {
		return contracts.Intent{}, contracts.ValidationError("signature does not match actor").WithIntent(i.ID)
	}
	return i, nil
}

func checkStructure(i contracts.Intent) *contracts.ExecutionError {
	if i.ID == "" {
		return contracts.ValidationError("missing id")
	}
	if len(i.ID) > MaxIDLength {
		return contracts.ValidationError("id longer than %d bytes", MaxIDLength)
	}
	if err := canonicalize.CheckString("id", i.ID); err != nil {
		return contracts.ValidationError("%v", err)
	}
	if err := checkIdentity(i.Actor); err != nil {
		return contracts.ValidationError("actor: %v", err)
	}
	if i.Recipient != "" {
		if err := checkIdentity(i.Recipient); err != nil {
			return contracts.ValidationError("recipient: %v", err)
		}
		if i.Recipient == i.Actor {
			return contracts.ValidationError("recipient equals actor")
		}
	}
	if len(i.Memo) > MaxMemoLength {
		return contracts.ValidationError("memo longer than %d bytes", MaxMemoLength)
	}
	if err := canonicalize.CheckString("memo", i.Memo); err != nil {
		return contracts.ValidationError("%v", err)
	}
	if i.Signature == "" {
		return contracts.ValidationError("missing signature")
	}
	return nil
}

// checkIdentity requires the lowercase hex form of an Ed25519 key, so one key maps to one account.
func checkIdentity(id string) error {
	if _, err := crypto.ParseActorKey(id); err != nil {
		return err
	}
	if id != strings.ToLower(id) {
		return fmt.Errorf("identity must be lowercase hex")
	}
	return nil
}
