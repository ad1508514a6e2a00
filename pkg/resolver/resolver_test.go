package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

type failingReader struct{ err error }

func (f failingReader) GetAccount(context.Context, string) (contracts.AccountState, error) {
	return contracts.AccountState{}, f.err
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: "a", Balance: 100}))
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: "b", Balance: 1}))
	r := New(s)

	got, err := r.Resolve(ctx, contracts.Intent{ID: "1", Actor: "a"})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Actor.Balance)
	assert.Nil(t, got.Recipient)

	got, err = r.Resolve(ctx, contracts.Intent{ID: "2", Actor: "a", Recipient: "b"})
	require.NoError(t, err)
	require.NotNil(t, got.Recipient)
	assert.Equal(t, uint64(1), got.Recipient.Balance)
}

func TestResolve_NotFound(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: "a", Balance: 100}))
	r := New(s)

	_, err := r.Resolve(ctx, contracts.Intent{ID: "1", Actor: "ghost"})
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	_, err = r.Resolve(ctx, contracts.Intent{ID: "2", Actor: "a", Recipient: "ghost"})
	require.True(t, errors.Is(err, contracts.ErrNotFound))
	e, ok := contracts.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, "2", e.IntentID)
	assert.Contains(t, e.Reason, "ghost")
}

func TestResolve_StoreFailureIsNotNotFound(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := New(failingReader{err: boom}).Resolve(context.Background(), contracts.Intent{ID: "1", Actor: "a"})
	assert.ErrorIs(t, err, boom)
	_, isExec := contracts.AsExecutionError(err)
	assert.False(t, isExec)
}
