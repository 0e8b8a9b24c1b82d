package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_WithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &Logger{SugaredLogger: zap.New(core).Sugar()}

	child := log.With("component", "snapshot")
	child.Info("Snapshot created", "snapshot_id", "s1")
	child.Warn("Failed to write snapshot file", "error", "disk full")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "Snapshot created", entries[0].Message)
	assert.Equal(t, map[string]interface{}{"component": "snapshot", "snapshot_id": "s1"}, entries[0].ContextMap())
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"development", "production", "PROD", ""} {
		log, err := New(mode)
		require.NoError(t, err, mode)
		assert.NotNil(t, log.SugaredLogger)
	}
}
