package contracts

import "time"

// ExecutionRecord is durable proof that an intent ID has been applied.
// It is created exactly once and never mutated or deleted.
type ExecutionRecord struct {
	IntentID   string    `json:"intent_id"`
	ReceiptID  string    `json:"receipt_id"`
	Actor      string    `json:"actor"`
	Recipient  string    `json:"recipient,omitempty"`
	Amount     uint64    `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

// AccountState is the ledger entry keyed by actor identity.
type AccountState struct {
	Actor     string    `json:"actor"`
	Owner     string    `json:"owner,omitempty"`
	Balance   uint64    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountWrite is one staged after-image. Before is the balance the write was computed from;
// stores refuse the write if the persisted balance no longer matches it.
type AccountWrite struct {
	Actor     string    `json:"actor"`
	Before    uint64    `json:"before"`
	After     uint64    `json:"after"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition is the arena of pending writes produced by one execution.
// A store applies all of it or none of it.
type Transition struct {
	Writes []AccountWrite  `json:"writes"`
	Record ExecutionRecord `json:"record"`
}

// Accounts returns the actors written by the transition.
func (t *Transition) Accounts() []string {
	out := make([]string, 0, len(t.Writes))
	for _, w := range t.Writes {
		out = append(out, w.Actor)
	}
	return out
}
