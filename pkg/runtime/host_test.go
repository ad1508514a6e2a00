package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/crypto"
	"github.com/R3DRVM/BlossomV2/pkg/policy"
	"github.com/R3DRVM/BlossomV2/pkg/program"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// trackingExecutor records the peak number of concurrent executions per account.
type trackingExecutor struct {
	mu       sync.Mutex
	inflight map[string]int
	peak     map[string]int
	fail     map[string]bool
}

func newTracking() *trackingExecutor {
	return &trackingExecutor{inflight: map[string]int{}, peak: map[string]int{}, fail: map[string]bool{}}
}

func (e *trackingExecutor) Execute(ctx context.Context, i contracts.Intent) (contracts.ExecutionRecord, error) {
	e.mu.Lock()
	for _, a := range i.Accounts() {
		e.inflight[a]++
		if e.inflight[a] > e.peak[a] {
			e.peak[a] = e.inflight[a]
		}
	}
	e.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	e.mu.Lock()
	for _, a := range i.Accounts() {
		e.inflight[a]--
	}
	fail := e.fail[i.ID]
	e.mu.Unlock()

	if fail {
		return contracts.ExecutionRecord{}, contracts.ValidationError("rejected").WithIntent(i.ID)
	}
	return contracts.ExecutionRecord{IntentID: i.ID}, nil
}

func TestExecuteBatch_OrderAndSerialization(t *testing.T) {
	exec := newTracking()
	exec.fail["i-3"] = true
	h := NewHost(exec, 8)

	var intents []contracts.Intent
	accounts := []string{"a", "b", "c"}
	for n := 0; n < 30; n++ {
		intents = append(intents, contracts.Intent{
			ID:        fmt.Sprintf("i-%d", n),
			Actor:     accounts[n%3],
			Recipient: accounts[(n+1)%3],
		})
	}

	results, err := h.ExecuteBatch(context.Background(), intents)
	require.NoError(t, err)
	require.Len(t, results, len(intents))
	for n, r := range results {
		assert.Equal(t, intents[n].ID, r.IntentID)
		if intents[n].ID == "i-3" {
			assert.Equal(t, contracts.StateRejected, r.State)
			assert.True(t, errors.Is(r.Err, contracts.ErrValidation))
			assert.NotEmpty(t, r.Error)
			continue
		}
		assert.Equal(t, contracts.StateApplied, r.State)
		require.NotNil(t, r.Record)
		assert.Equal(t, intents[n].ID, r.Record.IntentID)
	}

	for _, a := range accounts {
		assert.Equal(t, 1, exec.peak[a], "account %s ran concurrently", a)
	}
	assert.Equal(t, 0, h.locks.size())
}

func TestExecuteBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewHost(newTracking(), 2)
	results, err := h.ExecuteBatch(ctx, []contracts.Intent{{ID: "1", Actor: "a"}, {ID: "2", Actor: "b"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, contracts.StateSubmitted, r.State)
		assert.False(t, r.State.Terminal())
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestExecuteBatch_WithProgram(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)
	alice, err := crypto.NewEd25519Signer("alice")
	require.NoError(t, err)
	bob, err := crypto.NewEd25519Signer("bob")
	require.NoError(t, err)

	s := store.NewMemoryStore()
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: alice.PublicKey(), Balance: 100}))
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: bob.PublicKey(), Balance: 0}))

	eval, err := policy.NewEvaluator(policy.Default())
	require.NoError(t, err)
	prog := program.New(s, eval, program.WithClock(func() time.Time { return now }))

	var intents []contracts.Intent
	for n := 0; n < 12; n++ {
		i := contracts.Intent{ID: fmt.Sprintf("pay-%d", n), Recipient: bob.PublicKey(), Amount: 10, Expiry: now.Unix() + 60}
		require.NoError(t, alice.SignIntent(&i))
		intents = append(intents, i)
	}
	// Duplicate of the first intent.
	intents = append(intents, intents[0])

	results, err := NewHost(prog, 4).ExecuteBatch(ctx, intents)
	require.NoError(t, err)

	applied, insufficient, duplicate := 0, 0, 0
	for _, r := range results {
		assert.True(t, r.State.Terminal(), "intent %s", r.IntentID)
		if r.Err != nil {
			assert.Equal(t, contracts.StateRejected, r.State)
			assert.Nil(t, r.Record)
		}
		switch {
		case r.State == contracts.StateApplied:
			applied++
		case errors.Is(r.Err, contracts.ErrInsufficientFunds):
			insufficient++
		case errors.Is(r.Err, contracts.ErrDuplicateExecution):
			duplicate++
		default:
			t.Errorf("unexpected result %+v", r)
		}
	}
	assert.Equal(t, 10, applied)
	// The resubmitted copy either finds a record or competes for funds like any other intent.
	assert.Equal(t, 3, duplicate+insufficient)

	a, err := s.GetAccount(ctx, alice.PublicKey())
	require.NoError(t, err)
	b, err := s.GetAccount(ctx, bob.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Balance)
	assert.Equal(t, uint64(100), b.Balance)
}

func TestDedupeSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupeSorted([]string{"c", "a", "b", "a"}))
	assert.Empty(t, dedupeSorted(nil))
}
