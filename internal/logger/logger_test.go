package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_IsNop(t *testing.T) {
	l := New()
	require.NotNil(t, l.Log)
	assert.False(t, l.Log.Core().Enabled(zapcore.ErrorLevel))
}

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{"Info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"WARN", zapcore.WarnLevel, zapcore.InfoLevel},
		{" error ", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := New()
			require.NoError(t, l.Init(tt.level))
			assert.True(t, l.Log.Core().Enabled(tt.enabled))
			assert.False(t, l.Log.Core().Enabled(tt.off))
		})
	}
}

func TestInit_InvalidLevel(t *testing.T) {
	l := New()
	err := l.Init("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
