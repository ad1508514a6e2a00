// Package replay rejects intents whose ID already has an execution record.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

// Guard reads execution records. The record is written by the store together with the state
// change, and stores re-check for it inside their commit.
type Guard struct {
	records store.RecordReader
}

func NewGuard(records store.RecordReader) *Guard {
	return &Guard{records: records}
}

// Check returns DuplicateExecutionError if intentID has been executed.
func (g *Guard) Check(ctx context.Context, intentID string) error {
	_, err := g.records.GetRecord(ctx, intentID)
	switch {
	case err == nil:
		return contracts.DuplicateExecutionError(intentID)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("replay check %s: %w", intentID, err)
	}
}
