package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionError_IsMatchesCode(t *testing.T) {
	err := ValidationError("amount %d above max", 10)
	wrapped := fmt.Errorf("execute: %w", err)

	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Contains(t, err.Error(), "amount 10 above max")
}

func TestExecutionError_Classification(t *testing.T) {
	assert.Equal(t, ClassificationIdempotentSafe, DuplicateExecutionError("i-1").Classification())
	assert.Equal(t, ClassificationNonRetryable, InsufficientFundsError("a", 1, 2).Classification())
}

func TestExecutionError_WithIntentDoesNotMutateSentinel(t *testing.T) {
	tagged := NotFoundError("abc").WithIntent("i-9")
	assert.Equal(t, "i-9", tagged.IntentID)
	assert.Empty(t, ErrNotFound.IntentID)

	got, ok := AsExecutionError(fmt.Errorf("wrap: %w", tagged))
	assert.True(t, ok)
	assert.Equal(t, CodeNotFound, got.Code)
}
