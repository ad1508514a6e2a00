// Package storetest holds the behavioural contract every store.Store backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

// Factory returns a fresh, empty store. The contract closes it.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// RunContract runs the shared store test suite.
func RunContract(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, newStore(t)) })
	t.Run("CommitDebitAndCredit", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("CommitRefusesDuplicateRecord", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("CommitRefusesStaleBalance", func(t *testing.T) { testStale(t, newStore(t)) })
	t.Run("CommitRejectsMalformed", func(t *testing.T) { testMalformed(t, newStore(t)) })
	t.Run("LargeBalances", func(t *testing.T) { testLargeBalances(t, newStore(t)) })
	t.Run("ConcurrentSameIntent", func(t *testing.T) { testConcurrentSameIntent(t, newStore(t)) })
	t.Run("ListStateIsConsistent", func(t *testing.T) { testListState(t, newStore(t)) })
}

func open(t *testing.T, s store.Store, actor string, balance uint64) {
	t.Helper()
	require.NoError(t, s.OpenAccount(context.Background(), contracts.AccountState{
		Actor: actor, Owner: "owner-" + actor, Balance: balance, UpdatedAt: epoch,
	}))
}

func transfer(id, from string, fromBal uint64, to string, toBal, amount uint64) *contracts.Transition {
	at := epoch.Add(time.Minute)
	t := &contracts.Transition{
		Writes: []contracts.AccountWrite{{Actor: from, Before: fromBal, After: fromBal - amount, UpdatedAt: at}},
		Record: contracts.ExecutionRecord{
			IntentID: id, ReceiptID: "receipt-" + id, Actor: from, Recipient: to, Amount: amount, ExecutedAt: at,
		},
	}
	if to != "" {
		t.Writes = append(t.Writes, contracts.AccountWrite{Actor: to, Before: toBal, After: toBal + amount, UpdatedAt: at})
	}
	return t
}

func testAccountLifecycle(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	open(t, s, "alice", 100)
	open(t, s, "bob", 0)

	err = s.OpenAccount(ctx, contracts.AccountState{Actor: "alice", Balance: 5, UpdatedAt: epoch})
	assert.ErrorIs(t, err, store.ErrAccountExists)
	assert.Error(t, s.OpenAccount(ctx, contracts.AccountState{}))

	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acct.Balance)
	assert.Equal(t, "owner-alice", acct.Owner)
	assert.True(t, acct.UpdatedAt.Equal(epoch))

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Actor)
	assert.Equal(t, "bob", all[1].Actor)

	recs, err := s.ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testCommit(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	open(t, s, "alice", 100)
	open(t, s, "bob", 5)

	require.NoError(t, s.Commit(ctx, transfer("1", "alice", 100, "bob", 5, 30)))

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(70), a.Balance)
	assert.Equal(t, "owner-alice", a.Owner)
	b, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(35), b.Balance)

	rec, err := s.GetRecord(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "receipt-1", rec.ReceiptID)
	assert.Equal(t, uint64(30), rec.Amount)
	assert.Equal(t, "bob", rec.Recipient)
	assert.True(t, rec.ExecutedAt.Equal(epoch.Add(time.Minute)))

	// Debit-only transition.
	require.NoError(t, s.Commit(ctx, transfer("2", "alice", 70, "", 0, 20)))
	a, err = s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), a.Balance)

	recs, err := s.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].IntentID)
	assert.Equal(t, "2", recs[1].IntentID)

	_, err = s.GetRecord(ctx, "3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicate(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	open(t, s, "alice", 100)

	require.NoError(t, s.Commit(ctx, transfer("1", "alice", 100, "", 0, 30)))
	err := s.Commit(ctx, transfer("1", "alice", 70, "", 0, 30))
	assert.ErrorIs(t, err, store.ErrRecordExists)

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(70), a.Balance)
}

func testStale(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	open(t, s, "alice", 100)
	open(t, s, "bob", 0)

	// Debit matches, credit is stale: nothing may be written.
	err := s.Commit(ctx, transfer("1", "alice", 100, "bob", 9, 10))
	assert.ErrorIs(t, err, store.ErrConflict)

	// Unknown account.
	err = s.Commit(ctx, transfer("2", "carol", 10, "", 0, 1))
	assert.ErrorIs(t, err, store.ErrConflict)

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a.Balance)
	b, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b.Balance)
	_, err = s.GetRecord(ctx, "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMalformed(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	open(t, s, "alice", 100)

	assert.Error(t, s.Commit(ctx, nil))
	assert.Error(t, s.Commit(ctx, &contracts.Transition{Record: contracts.ExecutionRecord{IntentID: "x"}}))
	assert.Error(t, s.Commit(ctx, transfer("", "alice", 100, "", 0, 1)))
	assert.Error(t, s.Commit(ctx, transfer("y", "alice", 100, "alice", 100, 1)))

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a.Balance)
}

func testLargeBalances(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	const maxBal = ^uint64(0)
	open(t, s, "whale", maxBal)
	open(t, s, "bob", 0)

	require.NoError(t, s.Commit(ctx, transfer("big", "whale", maxBal, "bob", 0, maxBal-1)))

	w, err := s.GetAccount(ctx, "whale")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), w.Balance)
	b, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, maxBal-1, b.Balance)
}

func testConcurrentSameIntent(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	open(t, s, "alice", 1000)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Commit(ctx, transfer("same", "alice", 1000, "", 0, 10))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrRecordExists):
		default:
			t.Errorf("unexpected commit error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, fmt.Sprintf("errors: %v", errs))

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(990), a.Balance)
	recs, err := s.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// testListState moves one unit per commit from alice to bob while reading. In every consistent
// read bob's balance equals the number of records and the total is conserved.
func testListState(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	const moves = 40
	open(t, s, "alice", moves)
	open(t, s, "bob", 0)

	done := make(chan struct{})
	var writeErr error
	go func() {
		defer close(done)
		for n := uint64(0); n < moves; n++ {
			if err := s.Commit(ctx, transfer(fmt.Sprintf("move-%02d", n), "alice", moves-n, "bob", n, 1)); err != nil {
				writeErr = err
				return
			}
		}
	}()

	check := func() {
		accounts, records, err := s.ListState(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, uint64(moves), accounts[0].Balance+accounts[1].Balance)
		assert.Equal(t, uint64(len(records)), accounts[1].Balance, "bob balance vs records")
	}
	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
			check()
		}
	}
	require.NoError(t, writeErr)
	check()

	accounts, records, err := s.ListState(ctx)
	require.NoError(t, err)
	listed, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, listed, accounts)
	assert.Len(t, records, moves)
}
