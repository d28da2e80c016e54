package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedZap() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewZapLogger(zap.New(core)), logs
}

func TestZapLogger_FieldsAndLevels(t *testing.T) {
	log, logs := newObservedZap()
	ctx := context.Background()

	log.Info(ctx, "login", "user_id", "u-1", "attempts", 3)
	log.Error(ctx, "store", "err", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "u-1", entries[0].ContextMap()["user_id"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["attempts"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["err"])
}

func TestZapLogger_RedactsAndWith(t *testing.T) {
	log, logs := newObservedZap()

	child := log.With("module", "auth", "token", "eyJhbGciOi")
	child.Warn(context.Background(), "refresh", "new_password", "hunter2hunter2")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "auth", fields["module"])
	assert.Equal(t, Redacted, fields["token"])
	assert.Equal(t, Redacted, fields["new_password"])
}

func TestZapFields_BadKeys(t *testing.T) {
	fields := zapFields([]any{42, "k", "v", "dangling"})
	require.Len(t, fields, 3)
	assert.Equal(t, "!BADKEY", fields[0].Key)
	assert.Equal(t, "k", fields[1].Key)
	assert.Equal(t, "!BADKEY", fields[2].Key)
}
