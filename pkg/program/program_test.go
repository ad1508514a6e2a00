package program

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/crypto"
	"github.com/R3DRVM/BlossomV2/pkg/engine"
	"github.com/R3DRVM/BlossomV2/pkg/observability"
	"github.com/R3DRVM/BlossomV2/pkg/policy"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

var now = time.Unix(1_800_000_000, 0).UTC()

type fixture struct {
	prog  *Program
	store store.Store
	alice *crypto.Ed25519Signer
	bob   *crypto.Ed25519Signer
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, balances map[string]uint64) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemoryStore(), balances)
}

func newFixtureOn(t *testing.T, s store.Store, balances map[string]uint64, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	alice, err := crypto.NewEd25519Signer("alice")
	require.NoError(t, err)
	bob, err := crypto.NewEd25519Signer("bob")
	require.NoError(t, err)

	keys := map[string]string{"alice": alice.PublicKey(), "bob": bob.PublicKey()}
	for name, bal := range balances {
		require.NoError(t, s.OpenAccount(ctx, contracts.AccountState{Actor: keys[name], Owner: name, Balance: bal, UpdatedAt: now}))
	}

	eval, err := policy.NewEvaluator(policy.Default())
	require.NoError(t, err)
	logs := &bytes.Buffer{}
	opts = append([]Option{
		WithClock(func() time.Time { return now }),
		WithLogger(slog.New(slog.NewJSONHandler(logs, nil))),
	}, opts...)
	p := New(s, eval, opts...)
	return &fixture{prog: p, store: s, alice: alice, bob: bob, logs: logs}
}

func (f *fixture) intent(t *testing.T, id string, amount uint64, recipient string) contracts.Intent {
	t.Helper()
	i := contracts.Intent{ID: id, Recipient: recipient, Amount: amount, Expiry: now.Unix() + 300}
	require.NoError(t, f.alice.SignIntent(&i))
	return i
}

func (f *fixture) balance(t *testing.T, s *crypto.Ed25519Signer) uint64 {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), s.PublicKey())
	require.NoError(t, err)
	return acct.Balance
}

func (f *fixture) records(t *testing.T) []contracts.ExecutionRecord {
	t.Helper()
	recs, err := f.store.ListRecords(context.Background())
	require.NoError(t, err)
	return recs
}

// A=100, intent {id=1, amount=30} leaves A=70 and one record; resubmitting fails and A stays 70.
func TestExecuteIntent_DebitThenReplay(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()
	in := f.intent(t, "1", 30, "")

	require.NoError(t, f.prog.ExecuteIntent(ctx, in, 30))
	assert.Equal(t, uint64(70), f.balance(t, f.alice))
	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].IntentID)
	assert.Equal(t, engine.ReceiptID("1"), recs[0].ReceiptID)
	assert.True(t, recs[0].ExecutedAt.Equal(now))

	err := f.prog.ExecuteIntent(ctx, in, 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrDuplicateExecution))
	assert.Equal(t, uint64(70), f.balance(t, f.alice))
	assert.Len(t, f.records(t), 1)
}

func TestExecuteIntent_Transfer(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100, "bob": 1})
	rec, err := f.prog.Execute(context.Background(), f.intent(t, "t-1", 40, f.bob.PublicKey()))
	require.NoError(t, err)
	assert.Equal(t, f.bob.PublicKey(), rec.Recipient)
	assert.Equal(t, uint64(60), f.balance(t, f.alice))
	assert.Equal(t, uint64(41), f.balance(t, f.bob))
}

func TestExecuteIntent_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(f *fixture) (contracts.Intent, uint64)
		want    error
		wantBal uint64
	}{
		{"expired regardless of funds", func(f *fixture) (contracts.Intent, uint64) {
			i := contracts.Intent{ID: "e", Amount: 1, Expiry: now.Unix()}
			require.NoError(t, f.alice.SignIntent(&i))
			return i, 1
		}, contracts.ErrValidation, 100},
		{"amount argument mismatch", func(f *fixture) (contracts.Intent, uint64) {
			return f.intent(t, "m", 30, ""), 31
		}, contracts.ErrValidation, 100},
		{"tampered", func(f *fixture) (contracts.Intent, uint64) {
			i := f.intent(t, "x", 30, "")
			i.Amount = 99
			return i, 99
		}, contracts.ErrValidation, 100},
		{"insufficient funds", func(f *fixture) (contracts.Intent, uint64) {
			return f.intent(t, "big", 101, ""), 101
		}, contracts.ErrInsufficientFunds, 100},
		{"unknown recipient", func(f *fixture) (contracts.Intent, uint64) {
			return f.intent(t, "r", 10, f.bob.PublicKey()), 10
		}, contracts.ErrNotFound, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, map[string]uint64{"alice": 100})
			i, amount := tc.setup(f)

			err := f.prog.ExecuteIntent(context.Background(), i, amount)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Equal(t, contracts.StateRejected, Outcome(err))
			assert.Equal(t, tc.wantBal, f.balance(t, f.alice))
			assert.Empty(t, f.records(t))
		})
	}
}

func TestExecuteIntent_UnknownActor(t *testing.T) {
	f := newFixture(t, map[string]uint64{})
	err := f.prog.ExecuteIntent(context.Background(), f.intent(t, "1", 1, ""), 1)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestExecuteIntent_ConcurrentSameID(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 1000})
	in := f.intent(t, "race", 10, "")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			errs[k] = f.prog.ExecuteIntent(context.Background(), in, 10)
		}(k)
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
			continue
		}
		if !errors.Is(err, contracts.ErrDuplicateExecution) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, uint64(990), f.balance(t, f.alice))
	assert.Len(t, f.records(t), 1)
}

func TestExecuteIntent_ConcurrentSameIDOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s := store.NewRedisStore(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = s.Close() })
	f := newFixtureOn(t, s, map[string]uint64{"alice": 1000})

	const rounds, n = 20, 8
	for r := 0; r < rounds; r++ {
		in := f.intent(t, fmt.Sprintf("redis-race-%d", r), 10, "")
		var wg sync.WaitGroup
		errs := make([]error, n)
		for k := 0; k < n; k++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				errs[k] = f.prog.ExecuteIntent(context.Background(), in, 10)
			}(k)
		}
		wg.Wait()

		applied := 0
		for _, err := range errs {
			if err == nil {
				applied++
				continue
			}
			assert.ErrorIs(t, err, contracts.ErrDuplicateExecution, "round %d", r)
		}
		assert.Equal(t, 1, applied, "round %d", r)
	}
	assert.Equal(t, uint64(1000-rounds*10), f.balance(t, f.alice))
	assert.Len(t, f.records(t), rounds)
}

func TestExecuteIntent_LogsOneLinePerOutcome(t *testing.T) {
	f := newFixture(t, map[string]uint64{"alice": 100})
	ctx := context.Background()
	in := f.intent(t, "log-1", 5, "")

	require.NoError(t, f.prog.ExecuteIntent(ctx, in, 5))
	require.Error(t, f.prog.ExecuteIntent(ctx, in, 5))

	lines := strings.Split(strings.TrimSpace(f.logs.String()), "\n")
	require.Len(t, lines, 2)

	var applied, rejected map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &applied))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rejected))
	assert.Equal(t, "intent applied", applied["msg"])
	assert.Equal(t, "log-1", applied["intent_id"])
	assert.Equal(t, "intent rejected", rejected["msg"])
	assert.Equal(t, string(contracts.CodeDuplicateExecution), rejected["code"])
	assert.Equal(t, contracts.ClassificationIdempotentSafe, rejected["classification"])
}

func TestExecuteIntent_EveryOutcomeIsTracked(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	obs, err := observability.NewWithProviders(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	f := newFixtureOn(t, store.NewMemoryStore(), map[string]uint64{"alice": 100}, WithObservability(obs))
	ctx := context.Background()
	in := f.intent(t, "tracked", 10, "")

	err = f.prog.ExecuteIntent(ctx, in, 11)
	require.ErrorIs(t, err, contracts.ErrValidation)
	require.NoError(t, f.prog.ExecuteIntent(ctx, in, 10))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "blossom.execute_intent", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, codes.Unset, ended[1].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), counterTotal(rm, "blossom.intents.total"))
	assert.Equal(t, int64(1), counterTotal(rm, "blossom.intents.rejected"))
	assert.Len(t, f.records(t), 1)
}

func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == name {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
