package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindRecoverable, KindOf(base))
	assert.Equal(t, KindValidation, KindOf(Validation("bad input", base)))
	assert.Equal(t, KindFatal, KindOf(fmt.Errorf("wrapped: %w", Fatal("floor above listed", nil))))
	assert.Equal(t, KindFatal, KindOf(oops.Wrapf(Fatal("bad tag", nil), "select expert")))
}

func TestPredicates(t *testing.T) {
	err := Recoverable("generate reply", context.DeadlineExceeded)

	assert.True(t, IsRecoverable(err))
	assert.False(t, IsFatal(err))
	assert.False(t, IsValidation(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, IsRecoverable(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Fatal("invalid credentials", errors.New("401"))

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "fatal: invalid credentials: 401", err.Error())
	assert.Equal(t, "validation: empty text", Validation("empty text", nil).Error())
}
