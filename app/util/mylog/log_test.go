package mylog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForOperator(t *testing.T) {
	ctx := context.Background()

	info := slog.NewRecord(time.Now(), slog.LevelInfo, "Replied to message", 0)
	assert.False(t, forOperator(ctx, info))

	flagged := slog.NewRecord(time.Now(), slog.LevelInfo, "Replied to message", 0)
	flagged.AddAttrs(slog.Bool(OperatorKey, true))
	assert.True(t, forOperator(ctx, flagged))

	failure := slog.NewRecord(time.Now(), slog.LevelError, "Conversation halted", 0)
	assert.True(t, forOperator(ctx, failure))
}
