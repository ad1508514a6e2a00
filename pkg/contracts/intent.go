// Package contracts defines the data model shared by every stage of intent execution.
package contracts

import "time"

// Intent is a caller-submitted, signed request to move value out of the actor's account.
// It is immutable once signed: any field change invalidates Signature.
type Intent struct {
	ID        string `json:"id"`
	Actor     string `json:"actor"`               // hex Ed25519 public key of the signer
	Recipient string `json:"recipient,omitempty"` // credited account; empty means debit only
	Amount    uint64 `json:"amount"`
	Expiry    int64  `json:"expiry"` // logical timestamp, unix seconds
	Memo      string `json:"memo,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// SigningFields returns the intent without its signature. This is the value that gets canonicalized
// and signed.
func (i Intent) SigningFields() Intent {
	i.Signature = ""
	return i
}

// Accounts returns the account identities the intent touches, actor first.
func (i Intent) Accounts() []string {
	if i.Recipient == "" {
		return []string{i.Actor}
	}
	return []string{i.Actor, i.Recipient}
}

// ExpiredAt reports whether the intent's expiry has elapsed at now.
func (i Intent) ExpiredAt(now time.Time) bool {
	return now.Unix() >= i.Expiry
}

// State is the lifecycle of a single intent execution.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateValidated State = "VALIDATED"
	StateResolved  State = "RESOLVED"
	StateApplied   State = "APPLIED"
	StateRejected  State = "REJECTED"
)

// Terminal reports whether s is externally observable.
func (s State) Terminal() bool {
	return s == StateApplied || s == StateRejected
}
