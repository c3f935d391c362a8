package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit_FallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "verbose", Format: "json", ServiceName: "test"}))
	assert.Equal(t, zapcore.InfoLevel, level.Level())

	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	SetLevel("nonsense")
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}

func TestWithContext(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "info", Format: "console"}))

	assert.Same(t, L(), WithContext(context.Background()))

	ctx := NewContext(context.Background(), zap.Int64("workspace_id", 7))
	assert.NotSame(t, L(), WithContext(ctx))
}
