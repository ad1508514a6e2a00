// Package runtime is the host that drives the program over many intents. It runs independent
// intents in parallel and serializes intents that share an account.
package runtime

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/program"
)

// Executor runs one intent to completion.
type Executor interface {
	Execute(ctx context.Context, i contracts.Intent) (contracts.ExecutionRecord, error)
}

// Result is the outcome of one intent in a batch.
type Result struct {
	IntentID string                     `json:"intent_id"`
	State    contracts.State            `json:"state"`
	Record   *contracts.ExecutionRecord `json:"record,omitempty"`
	Err      error                      `json:"-"`
	Error    string                     `json:"error,omitempty"`
}

// Host executes batches of intents.
type Host struct {
	exec    Executor
	workers int
	locks   *keyedLocks
	logger  *slog.Logger
}

// NewHost creates a host running at most workers intents at once.
func NewHost(exec Executor, workers int) *Host {
	if workers < 1 {
		workers = 1
	}
	return &Host{
		exec:    exec,
		workers: workers,
		locks:   newKeyedLocks(),
		logger:  slog.Default().With("component", "runtime"),
	}
}

// ExecuteBatch runs every intent and returns results in input order. Intents that touch a
// common account run one after another; others run concurrently. Cancelling ctx stops intents
// that have not started; a started execution always runs to completion. The returned error is
// ctx.Err() when the batch was cut short.
func (h *Host) ExecuteBatch(ctx context.Context, intents []contracts.Intent) ([]Result, error) {
	results := make([]Result, len(intents))
	g := new(errgroup.Group)
	g.SetLimit(h.workers)

	for idx := range intents {
		idx := idx
		if err := ctx.Err(); err != nil {
			results[idx] = skipped(intents[idx], err)
			continue
		}
		g.Go(func() error {
			results[idx] = h.run(ctx, intents[idx])
			return nil
		})
	}
	_ = g.Wait()

	applied, skippedN := 0, 0
	for _, r := range results {
		switch {
		case r.State == contracts.StateApplied:
			applied++
		case !r.State.Terminal():
			skippedN++
		}
	}
	h.logger.InfoContext(ctx, "batch complete", "intents", len(intents), "applied", applied, "skipped", skippedN)
	return results, ctx.Err()
}

func (h *Host) run(ctx context.Context, i contracts.Intent) Result {
	release := h.locks.acquire(i.Accounts())
	defer release()

	if err := ctx.Err(); err != nil {
		return skipped(i, err)
	}
	rec, err := h.exec.Execute(context.WithoutCancel(ctx), i)
	res := Result{IntentID: i.ID, State: program.Outcome(err), Err: err}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Record = &rec
	return res
}

func skipped(i contracts.Intent, err error) Result {
	return Result{IntentID: i.ID, State: contracts.StateSubmitted, Err: err, Error: err.Error()}
}
