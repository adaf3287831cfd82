package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestForComponent_AddsField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForComponent(NewZapAdapter(zap.New(core)), "sweeper")

	log.Info("tick finished", map[string]interface{}{"closed": 2})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "sweeper", fields["component"])
	assert.EqualValues(t, 2, fields["closed"])
}

func TestErrorFieldsAreEncodedAsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core))

	log.Error("save failed", map[string]interface{}{"error": errors.New("disk full")})

	require.Len(t, logs.All(), 1)
	assert.Equal(t, "disk full", logs.All()[0].ContextMap()["error"])
}

func TestForComponent_NilLogger(t *testing.T) {
	log := ForComponent(nil, "engine")
	assert.NotNil(t, log)
	log.Debug("discarded", nil)
}

func TestNewStructured_HonoursLevel(t *testing.T) {
	log, ok := NewStructured("warn", "console").(*zapWrapper)
	require.True(t, ok)
	assert.False(t, log.l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.l.Core().Enabled(zapcore.WarnLevel))
}
